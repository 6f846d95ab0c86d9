package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
	"github.com/devsec-arena/arena/pkg/progress"
	"github.com/devsec-arena/arena/pkg/safety"
)

// fakeDeployer scripts backend behavior and counts calls.
type fakeDeployer struct {
	healthy      bool
	healthReason string

	deployErrs  []error
	deployCalls int

	cleanupErr   error
	cleanupCalls int
}

func (f *fakeDeployer) HealthCheck(ctx context.Context) (bool, string) {
	return f.healthy, f.healthReason
}

func (f *fakeDeployer) Deploy(ctx context.Context, levelPath string) error {
	f.deployCalls++
	if len(f.deployErrs) > 0 {
		err := f.deployErrs[0]
		f.deployErrs = f.deployErrs[1:]
		return err
	}
	return nil
}

func (f *fakeDeployer) Cleanup(ctx context.Context, levelPath string) error {
	f.cleanupCalls++
	return f.cleanupErr
}

func (f *fakeDeployer) Status(ctx context.Context, levelPath string) (*arena.BackendStatus, error) {
	return &arena.BackendStatus{Ready: true, Message: "ok"}, nil
}

// fakeValidator accepts exactly one flag.
type fakeValidator struct {
	accept string
	err    error
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, levelPath, flag string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if flag == f.accept {
		return "validation passed", nil
	}
	return "wrong flag", arena.NewPermanentError("wrong flag", nil).
		WithCode(arena.ErrCodeValidationFailed)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func testChallenge() *arena.Challenge {
	return &arena.Challenge{
		ID:    "world-1/level-02-rbac",
		Name:  "Privilege Escalation",
		World: "world-1",
		XP:    150,
		Path:  "/tmp/arena-test/level-02",
	}
}

func newTestEngine(t *testing.T, deployer *fakeDeployer, validator *fakeValidator, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append(opts, WithRetryPolicy(3, time.Millisecond))
	return NewEngine("kubernetes", deployer, validator, safety.NoopGuard{},
		progress.NewMemoryTracker(), testLogger(), opts...)
}

func TestSelect_DeploysAndActivates(t *testing.T) {
	deployer := &fakeDeployer{healthy: true}
	e := newTestEngine(t, deployer, &fakeValidator{})

	if err := e.Select(context.Background(), testChallenge()); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if e.State() != StateActive {
		t.Errorf("State() = %s, want ACTIVE", e.State())
	}
	if deployer.deployCalls != 1 {
		t.Errorf("deployCalls = %d, want 1", deployer.deployCalls)
	}
}

func TestSelect_HealthCheckFailureKeepsIdle(t *testing.T) {
	deployer := &fakeDeployer{healthy: false, healthReason: "no reachable cluster"}
	e := newTestEngine(t, deployer, &fakeValidator{})

	err := e.Select(context.Background(), testChallenge())
	if !arena.HasCode(err, arena.ErrCodeBackendUnavailable) {
		t.Fatalf("Select() = %v, want BACKEND_UNAVAILABLE", err)
	}
	if e.State() != StateIdle {
		t.Errorf("State() = %s, want IDLE after failed health check", e.State())
	}
	if deployer.deployCalls != 0 {
		t.Error("deploy must not run when the backend is unhealthy")
	}
}

func TestSelect_SafetyBlockKeepsIdle(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "setup.sh"),
		[]byte("#!/bin/sh\nkubectl delete namespace kube-system\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	guard, err := safety.NewRegexGuard(safety.KubectlPatterns("arena"))
	if err != nil {
		t.Fatal(err)
	}

	deployer := &fakeDeployer{healthy: true}
	e := NewEngine("kubernetes", deployer, &fakeValidator{}, guard,
		progress.NewMemoryTracker(), testLogger())

	challenge := testChallenge()
	challenge.Path = dir
	serr := e.Select(context.Background(), challenge)
	if !arena.HasCode(serr, arena.ErrCodeSafetyBlocked) {
		t.Fatalf("Select() = %v, want SAFETY_BLOCKED", serr)
	}
	if e.State() != StateIdle {
		t.Errorf("State() = %s, want IDLE after safety block", e.State())
	}
	if deployer.deployCalls != 0 {
		t.Error("deploy must not run on a blocked level")
	}
}

func TestSelect_RetriesTransientDeploys(t *testing.T) {
	deployer := &fakeDeployer{
		healthy: true,
		deployErrs: []error{
			arena.NewTransientError("connection refused", nil).WithCode(arena.ErrCodeDeployFailed),
			arena.NewTransientError("timeout", nil).WithCode(arena.ErrCodeTimeout),
		},
	}
	e := newTestEngine(t, deployer, &fakeValidator{})

	if err := e.Select(context.Background(), testChallenge()); err != nil {
		t.Fatalf("Select() error = %v, want success after retries", err)
	}
	if deployer.deployCalls != 3 {
		t.Errorf("deployCalls = %d, want 3", deployer.deployCalls)
	}
	if e.State() != StateActive {
		t.Errorf("State() = %s, want ACTIVE", e.State())
	}
}

func TestSelect_ExhaustedRetriesFail(t *testing.T) {
	transient := func() error {
		return arena.NewTransientError("connection refused", nil).WithCode(arena.ErrCodeDeployFailed)
	}
	deployer := &fakeDeployer{
		healthy:    true,
		deployErrs: []error{transient(), transient(), transient()},
	}
	e := newTestEngine(t, deployer, &fakeValidator{})

	err := e.Select(context.Background(), testChallenge())
	if !arena.IsTransient(err) {
		t.Fatalf("Select() = %v, want the last transient error", err)
	}
	if e.State() != StateFailed {
		t.Errorf("State() = %s, want FAILED", e.State())
	}
	if deployer.deployCalls != 3 {
		t.Errorf("deployCalls = %d, want bounded retries", deployer.deployCalls)
	}
}

func TestSelect_PermanentErrorDoesNotRetry(t *testing.T) {
	deployer := &fakeDeployer{
		healthy: true,
		deployErrs: []error{
			arena.NewPermanentError("malformed manifest", nil).WithCode(arena.ErrCodeDeployFailed),
		},
	}
	e := newTestEngine(t, deployer, &fakeValidator{})

	err := e.Select(context.Background(), testChallenge())
	if !arena.IsPermanent(err) {
		t.Fatalf("Select() = %v, want permanent", err)
	}
	if deployer.deployCalls != 1 {
		t.Errorf("deployCalls = %d, want 1", deployer.deployCalls)
	}
	if e.State() != StateFailed {
		t.Errorf("State() = %s, want FAILED", e.State())
	}
}

func TestSubmitFlag_CorrectFlagCompletesOnce(t *testing.T) {
	deployer := &fakeDeployer{healthy: true}
	validator := &fakeValidator{accept: "ARENA{MCP02_Pr1v1l3g3_3sc4l4t10n_N0_RBAC}"}
	tracker := progress.NewMemoryTracker()
	e := NewEngine("kubernetes", deployer, validator, safety.NoopGuard{}, tracker, testLogger())

	ctx := context.Background()
	if err := e.Select(ctx, testChallenge()); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	// Wrong flag keeps the session active with unlimited retries.
	if _, err := e.SubmitFlag(ctx, "ARENA{wrong}"); !arena.HasCode(err, arena.ErrCodeValidationFailed) {
		t.Fatalf("SubmitFlag(wrong) = %v, want VALIDATION_FAILED", err)
	}
	if e.State() != StateActive {
		t.Fatalf("State() = %s, want ACTIVE after wrong flag", e.State())
	}

	out, err := e.SubmitFlag(ctx, "ARENA{MCP02_Pr1v1l3g3_3sc4l4t10n_N0_RBAC}")
	if err != nil {
		t.Fatalf("SubmitFlag(correct) error = %v", err)
	}
	if out != "validation passed" {
		t.Errorf("SubmitFlag() output = %q", out)
	}
	if e.State() != StateCompleted {
		t.Errorf("State() = %s, want COMPLETED", e.State())
	}

	total, _ := tracker.TotalXP(ctx, "kubernetes")
	if total != 150 {
		t.Errorf("TotalXP = %d, want 150", total)
	}

	// A completed session accepts no further submissions.
	if _, err := e.SubmitFlag(ctx, "ARENA{MCP02_Pr1v1l3g3_3sc4l4t10n_N0_RBAC}"); err == nil {
		t.Error("SubmitFlag() after completion = nil, want conflict")
	}
	total, _ = tracker.TotalXP(ctx, "kubernetes")
	if total != 150 {
		t.Errorf("TotalXP after re-submit = %d, xp must be awarded once", total)
	}
}

func TestSubmitFlag_RequiresActiveChallenge(t *testing.T) {
	e := newTestEngine(t, &fakeDeployer{healthy: true}, &fakeValidator{})
	if _, err := e.SubmitFlag(context.Background(), "ARENA{flag}"); !arena.IsConflict(err) {
		t.Fatalf("SubmitFlag() in IDLE = %v, want conflict", err)
	}
}

func TestSubmitFlag_ValidatorTimeoutFailsSession(t *testing.T) {
	validator := &fakeValidator{
		err: arena.NewTransientError("validator timed out", nil).WithCode(arena.ErrCodeTimeout),
	}
	e := newTestEngine(t, &fakeDeployer{healthy: true}, validator)

	ctx := context.Background()
	if err := e.Select(ctx, testChallenge()); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if _, err := e.SubmitFlag(ctx, "ARENA{flag}"); !arena.HasCode(err, arena.ErrCodeTimeout) {
		t.Fatalf("SubmitFlag() = %v, want TIMEOUT", err)
	}
	if e.State() != StateFailed {
		t.Errorf("State() = %s, want FAILED after validator hang", e.State())
	}
}

func TestSkip_CleansUpExactlyOnceWithZeroXP(t *testing.T) {
	deployer := &fakeDeployer{healthy: true}
	tracker := progress.NewMemoryTracker()
	e := NewEngine("kubernetes", deployer, &fakeValidator{}, safety.NoopGuard{}, tracker, testLogger())

	ctx := context.Background()
	if err := e.Select(ctx, testChallenge()); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if err := e.Skip(ctx); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if e.State() != StateCleanedUp {
		t.Errorf("State() = %s, want CLEANED_UP", e.State())
	}
	if deployer.cleanupCalls != 1 {
		t.Errorf("cleanupCalls = %d, want exactly 1", deployer.cleanupCalls)
	}
	total, _ := tracker.TotalXP(ctx, "kubernetes")
	if total != 0 {
		t.Errorf("TotalXP = %d, want 0 after skip", total)
	}

	// Quit after skip must not clean up again.
	if err := e.Quit(ctx); err != nil {
		t.Fatalf("Quit() after Skip() error = %v", err)
	}
	if deployer.cleanupCalls != 1 {
		t.Errorf("cleanupCalls = %d after quit, want still 1", deployer.cleanupCalls)
	}
}

func TestQuit_FromIdleIsSafe(t *testing.T) {
	deployer := &fakeDeployer{healthy: true}
	e := newTestEngine(t, deployer, &fakeValidator{})

	if err := e.Quit(context.Background()); err != nil {
		t.Fatalf("Quit() from IDLE error = %v", err)
	}
	if deployer.cleanupCalls != 0 {
		t.Errorf("cleanupCalls = %d, want 0 with nothing deployed", deployer.cleanupCalls)
	}
	if e.State() != StateCleanedUp {
		t.Errorf("State() = %s, want CLEANED_UP", e.State())
	}
}

func TestSelect_CleansUpPreviousChallengeFirst(t *testing.T) {
	deployer := &fakeDeployer{healthy: true}
	e := newTestEngine(t, deployer, &fakeValidator{accept: "ARENA{flag}"})

	ctx := context.Background()
	first := testChallenge()
	if err := e.Select(ctx, first); err != nil {
		t.Fatalf("Select(first) error = %v", err)
	}

	second := testChallenge()
	second.ID = "world-1/level-03-network"
	second.Path = "/tmp/arena-test/level-03"
	if err := e.Select(ctx, second); err != nil {
		t.Fatalf("Select(second) error = %v", err)
	}
	if deployer.cleanupCalls != 1 {
		t.Errorf("cleanupCalls = %d, want cleanup before redeploy", deployer.cleanupCalls)
	}
	if deployer.deployCalls != 2 {
		t.Errorf("deployCalls = %d, want 2", deployer.deployCalls)
	}
	if got := e.Current(); got == nil || got.ID != second.ID {
		t.Errorf("Current() = %v, want the second challenge", got)
	}
}

func TestHint_RecordsAndReadsHintFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "hint-1.txt"), []byte("check the role binding"), 0o644)
	os.WriteFile(filepath.Join(dir, "hint-2.txt"), []byte("look at the service account"), 0o644)

	tracker := progress.NewMemoryTracker()
	e := NewEngine("kubernetes", &fakeDeployer{healthy: true}, &fakeValidator{},
		safety.NoopGuard{}, tracker, testLogger())

	ctx := context.Background()
	challenge := testChallenge()
	challenge.Path = dir
	if err := e.Select(ctx, challenge); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	hint, err := e.Hint(ctx)
	if err != nil {
		t.Fatalf("Hint() error = %v", err)
	}
	if hint != "check the role binding" {
		t.Errorf("Hint() = %q", hint)
	}
	if hint, _ = e.Hint(ctx); hint != "look at the service account" {
		t.Errorf("second Hint() = %q", hint)
	}
	if _, err := e.Hint(ctx); err == nil {
		t.Error("third Hint() = nil, want error when hints run out")
	}
	if e.State() != StateActive {
		t.Errorf("State() = %s, hints must not change state", e.State())
	}

	p, _ := tracker.Progress(ctx, "kubernetes")
	if p[challenge.ID].HintsUsed != 3 {
		t.Errorf("HintsUsed = %d, want every request recorded", p[challenge.ID].HintsUsed)
	}
}

func TestCheckCommand_DelegatesToGuard(t *testing.T) {
	guard, err := safety.NewRegexGuard(safety.KubectlPatterns("arena"))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("kubernetes", &fakeDeployer{healthy: true}, &fakeValidator{},
		guard, progress.NewMemoryTracker(), testLogger())

	verdict := e.CheckCommand("kubectl delete namespace kube-system", true)
	if verdict.Allowed || verdict.Severity != arena.SeverityCritical {
		t.Errorf("CheckCommand() = %+v, want critical block", verdict)
	}
	if v := e.CheckCommand("kubectl get pods -n arena", false); !v.Allowed {
		t.Errorf("CheckCommand(safe) = %+v, want allowed", v)
	}
}

func TestFirstUncompleted(t *testing.T) {
	tracker := progress.NewMemoryTracker()
	ctx := context.Background()
	tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 50)

	e := NewEngine("kubernetes", &fakeDeployer{healthy: true}, &fakeValidator{},
		safety.NoopGuard{}, tracker, testLogger())

	challenges := []arena.Challenge{
		{ID: "world-1/level-01"},
		{ID: "world-1/level-02"},
		{ID: "world-1/level-03"},
	}
	next, err := e.FirstUncompleted(ctx, challenges)
	if err != nil {
		t.Fatalf("FirstUncompleted() error = %v", err)
	}
	if next == nil || next.ID != "world-1/level-02" {
		t.Errorf("FirstUncompleted() = %v, want level-02", next)
	}

	tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-02", 50)
	tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-03", 50)
	next, _ = e.FirstUncompleted(ctx, challenges)
	if next != nil {
		t.Errorf("FirstUncompleted() = %v, want nil when all complete", next)
	}
}
