package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

const composeCallTimeout = 90 * time.Second

// ComposeDeployer runs challenges as docker compose projects. Each level
// gets its own project name under a shared prefix so Cleanup and the
// already-deployed check can find every stack the arena owns.
type ComposeDeployer struct {
	runner Runner
	prefix string
	logger zerolog.Logger
}

// ComposeOption configures a ComposeDeployer.
type ComposeOption func(*ComposeDeployer)

// WithComposeRunner substitutes the command runner. Used by tests.
func WithComposeRunner(r Runner) ComposeOption {
	return func(d *ComposeDeployer) { d.runner = r }
}

// NewComposeDeployer creates a deployer whose project names share prefix.
func NewComposeDeployer(prefix string, logger zerolog.Logger, opts ...ComposeOption) *ComposeDeployer {
	d := &ComposeDeployer{
		runner: &ExecRunner{},
		prefix: prefix,
		logger: logger.With().Str("component", "deploy.compose").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// projectName derives a stable compose project name from the level path.
// Compose project names must be lowercase alphanumeric with dashes.
func (d *ComposeDeployer) projectName(levelPath string) string {
	base := strings.ToLower(filepath.Base(filepath.Clean(levelPath)))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, base)
	return d.prefix + "-" + base
}

// HealthCheck verifies the docker daemon and the compose plugin.
func (d *ComposeDeployer) HealthCheck(ctx context.Context) (bool, string) {
	res, err := runWithTimeout(ctx, d.runner, 15*time.Second, "docker", "info")
	if err != nil || res.ExitCode != 0 {
		return false, "docker daemon not reachable"
	}
	res, err = runWithTimeout(ctx, d.runner, 10*time.Second, "docker", "compose", "version")
	if err != nil || res.ExitCode != 0 {
		return false, "docker compose plugin not installed"
	}
	return true, "docker ready"
}

// Deploy brings the level's compose stack up. An already-running project
// under the arena prefix is an ALREADY_DEPLOYED conflict, whether it is
// this level or another one.
func (d *ComposeDeployer) Deploy(ctx context.Context, levelPath string) error {
	running, err := d.runningProjects(ctx)
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return arena.NewConflictError(
			fmt.Sprintf("compose project %s is still running", running[0]), nil).
			WithCode(arena.ErrCodeAlreadyDeployed).
			WithOperation("deploy")
	}

	res, err := runWithTimeout(ctx, d.runner, composeCallTimeout,
		"docker", "compose",
		"--project-name", d.projectName(levelPath),
		"--project-directory", levelPath,
		"up", "-d", "--build")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classifyCompose("up", res)
	}

	d.logger.Info().Str("project", d.projectName(levelPath)).Msg("challenge deployed")
	return nil
}

// Cleanup tears down every arena-prefixed project, not only the one for
// levelPath, so a crashed session cannot strand a stack. Nothing running
// is a no-op success.
func (d *ComposeDeployer) Cleanup(ctx context.Context, levelPath string) error {
	running, err := d.runningProjects(ctx)
	if err != nil {
		return err
	}
	for _, project := range running {
		res, err := runWithTimeout(ctx, d.runner, composeCallTimeout,
			"docker", "compose", "--project-name", project, "down", "--volumes", "--remove-orphans")
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return classifyCompose("down", res)
		}
		d.logger.Info().Str("project", project).Msg("challenge cleaned up")
	}
	return nil
}

// Status reports the services of the level's project.
func (d *ComposeDeployer) Status(ctx context.Context, levelPath string) (*arena.BackendStatus, error) {
	project := d.projectName(levelPath)
	res, err := runWithTimeout(ctx, d.runner, composeCallTimeout,
		"docker", "compose", "--project-name", project,
		"ps", "--format", "{{.Service}} {{.State}}")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 || res.Stdout == "" {
		return &arena.BackendStatus{Ready: false, Message: "nothing deployed"}, nil
	}

	status := &arena.BackendStatus{
		Ready:   true,
		Message: fmt.Sprintf("project %s active", project),
		Details: map[string]any{},
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			status.Details[fields[0]] = fields[1]
		}
	}
	return status, nil
}

// runningProjects lists arena-prefixed compose projects with containers.
func (d *ComposeDeployer) runningProjects(ctx context.Context) ([]string, error) {
	res, err := runWithTimeout(ctx, d.runner, composeCallTimeout,
		"docker", "compose", "ls", "-q")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classifyCompose("ls", res)
	}

	var projects []string
	for _, name := range strings.Fields(res.Stdout) {
		if strings.HasPrefix(name, d.prefix+"-") {
			projects = append(projects, name)
		}
	}
	return projects, nil
}

// classifyCompose turns a nonzero compose exit into a classified error.
func classifyCompose(op string, res *Result) error {
	msg := fmt.Sprintf("docker compose %s failed: %s", op, res.Stderr)
	if transientStderr(res.Stderr) {
		return arena.NewTransientError(msg, nil).
			WithCode(arena.ErrCodeDeployFailed).
			WithOperation(op)
	}
	return arena.NewPermanentError(msg, nil).
		WithCode(arena.ErrCodeDeployFailed).
		WithOperation(op)
}
