package deploy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

// fakeRunner scripts command outcomes by substring match against the
// joined command line, in declaration order. Unmatched commands succeed
// with empty output.
type fakeRunner struct {
	scripts []script
	calls   []string
}

type script struct {
	match  string
	result *Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, line)
	for _, s := range f.scripts {
		if strings.Contains(line, s.match) {
			if s.result == nil {
				return &Result{}, s.err
			}
			return s.result, s.err
		}
	}
	return &Result{}, nil
}

func (f *fakeRunner) called(t *testing.T, substr string) bool {
	t.Helper()
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestKubectlDeploy_Succeeds(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		// Annotation probe: namespace absent.
		{match: "get namespace", result: &Result{ExitCode: 1, Stderr: "NotFound"}},
	}}
	d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(runner))

	if err := d.Deploy(context.Background(), "/levels/level-01"); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	for _, want := range []string{"delete namespace arena", "create namespace arena", "apply -n arena -f /levels/level-01/broken.yaml"} {
		if !runner.called(t, want) {
			t.Errorf("expected command containing %q, calls: %v", want, runner.calls)
		}
	}
}

func TestKubectlDeploy_AlreadyDeployedConflict(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		{match: "get namespace", result: &Result{ExitCode: 0, Stdout: "true"}},
	}}
	d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(runner))

	err := d.Deploy(context.Background(), "/levels/level-01")
	if !arena.IsConflict(err) {
		t.Fatalf("Deploy() error class = %v, want conflict", err)
	}
	if !arena.HasCode(err, arena.ErrCodeAlreadyDeployed) {
		t.Errorf("Deploy() code = %v, want ALREADY_DEPLOYED", err)
	}
	if runner.called(t, "apply") {
		t.Error("apply must not run when a deployment already exists")
	}
}

func TestKubectlCleanup_NothingDeployedIsNoop(t *testing.T) {
	// --ignore-not-found makes delete exit 0 on a missing namespace.
	runner := &fakeRunner{}
	d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(runner))

	if err := d.Cleanup(context.Background(), "/levels/level-01"); err != nil {
		t.Fatalf("Cleanup() of nothing = %v, want nil", err)
	}
}

func TestKubectlErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		stderr  string
		wantFn  func(error) bool
		wantCls string
	}{
		{"connection refused is transient", "dial tcp 127.0.0.1:6443: connection refused", arena.IsTransient, "transient"},
		{"tls timeout is transient", "net/http: TLS handshake timeout", arena.IsTransient, "transient"},
		{"malformed manifest is permanent", "error parsing broken.yaml: mapping values are not allowed", arena.IsPermanent, "permanent"},
		{"forbidden is permanent", "namespaces is forbidden: User cannot create", arena.IsPermanent, "permanent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{scripts: []script{
				{match: "get namespace", result: &Result{ExitCode: 1}},
				{match: "apply", result: &Result{ExitCode: 1, Stderr: tt.stderr}},
			}}
			d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(runner))

			err := d.Deploy(context.Background(), "/levels/level-01")
			if err == nil {
				t.Fatal("Deploy() = nil, want classified error")
			}
			if !tt.wantFn(err) {
				t.Errorf("Deploy() = %v, want %s", err, tt.wantCls)
			}
			if !arena.HasCode(err, arena.ErrCodeDeployFailed) {
				t.Errorf("Deploy() code = %v, want DEPLOY_FAILED", err)
			}
		})
	}
}

func TestKubectlHealthCheck(t *testing.T) {
	t.Run("cluster reachable", func(t *testing.T) {
		d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(&fakeRunner{}))
		ok, _ := d.HealthCheck(context.Background())
		if !ok {
			t.Error("HealthCheck() = false, want true")
		}
	})
	t.Run("no cluster", func(t *testing.T) {
		runner := &fakeRunner{scripts: []script{
			{match: "cluster-info", result: &Result{ExitCode: 1, Stderr: "connection refused"}},
		}}
		d := NewKubectlDeployer("arena", testLogger(), WithKubectlRunner(runner))
		ok, msg := d.HealthCheck(context.Background())
		if ok {
			t.Error("HealthCheck() = true, want false")
		}
		if msg == "" {
			t.Error("HealthCheck() returned empty reason")
		}
	})
}

func TestComposeProjectNames(t *testing.T) {
	d := NewComposeDeployer("arena", testLogger(), WithComposeRunner(&fakeRunner{}))
	tests := []struct {
		path string
		want string
	}{
		{"/worlds/docker/level-01", "arena-level-01"},
		{"/worlds/docker/Level_02", "arena-level-02"},
		{"level-10/", "arena-level-10"},
	}
	for _, tt := range tests {
		if got := d.projectName(tt.path); got != tt.want {
			t.Errorf("projectName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestComposeDeploy_ConflictOnRunningProject(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		{match: "compose ls", result: &Result{Stdout: "arena-level-01\nsomeone-else"}},
	}}
	d := NewComposeDeployer("arena", testLogger(), WithComposeRunner(runner))

	err := d.Deploy(context.Background(), "/worlds/docker/level-02")
	if !arena.IsConflict(err) || !arena.HasCode(err, arena.ErrCodeAlreadyDeployed) {
		t.Fatalf("Deploy() = %v, want ALREADY_DEPLOYED conflict", err)
	}
	if runner.called(t, "up -d") {
		t.Error("up must not run while another project holds the prefix")
	}
}

func TestComposeDeploy_IgnoresForeignProjects(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		{match: "compose ls", result: &Result{Stdout: "someone-else\nunrelated-stack"}},
	}}
	d := NewComposeDeployer("arena", testLogger(), WithComposeRunner(runner))

	if err := d.Deploy(context.Background(), "/worlds/docker/level-01"); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if !runner.called(t, "--project-name arena-level-01") {
		t.Errorf("expected project-scoped up, calls: %v", runner.calls)
	}
}

func TestComposeCleanup_TearsDownAllOwnedProjects(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		{match: "compose ls", result: &Result{Stdout: "arena-level-01\narena-level-03\nforeign"}},
	}}
	d := NewComposeDeployer("arena", testLogger(), WithComposeRunner(runner))

	if err := d.Cleanup(context.Background(), "/worlds/docker/level-01"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !runner.called(t, "--project-name arena-level-01 down") || !runner.called(t, "--project-name arena-level-03 down") {
		t.Errorf("expected down for every owned project, calls: %v", runner.calls)
	}
	if runner.called(t, "--project-name foreign down") {
		t.Error("must not tear down projects outside the prefix")
	}
}

func TestComposeCleanup_NothingRunningIsNoop(t *testing.T) {
	runner := &fakeRunner{scripts: []script{
		{match: "compose ls", result: &Result{Stdout: ""}},
	}}
	d := NewComposeDeployer("arena", testLogger(), WithComposeRunner(runner))

	if err := d.Cleanup(context.Background(), "/worlds/docker/level-01"); err != nil {
		t.Fatalf("Cleanup() of nothing = %v, want nil", err)
	}
	if runner.called(t, "down") {
		t.Error("down must not run when nothing is deployed")
	}
}

func TestNoopDeployerLifecycle(t *testing.T) {
	d := NewNoopDeployer()
	ctx := context.Background()

	if ok, _ := d.HealthCheck(ctx); !ok {
		t.Fatal("HealthCheck() = false, want true")
	}
	if err := d.Cleanup(ctx, "level-01"); err != nil {
		t.Fatalf("Cleanup() of nothing = %v, want nil", err)
	}
	if err := d.Deploy(ctx, "level-01"); err != nil {
		t.Fatalf("Deploy() = %v", err)
	}
	if err := d.Deploy(ctx, "level-02"); !arena.IsConflict(err) {
		t.Fatalf("second Deploy() = %v, want conflict", err)
	}
	status, err := d.Status(ctx, "level-01")
	if err != nil || !status.Ready {
		t.Fatalf("Status() = %v, %v, want ready", status, err)
	}
	if err := d.Cleanup(ctx, "level-01"); err != nil {
		t.Fatalf("Cleanup() = %v", err)
	}
	if err := d.Deploy(ctx, "level-02"); err != nil {
		t.Fatalf("Deploy() after cleanup = %v, want nil", err)
	}
}
