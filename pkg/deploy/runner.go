package deploy

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/devsec-arena/arena/pkg/arena"
)

// Result holds the outcome of one backend command invocation.
type Result struct {
	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error.
	Stderr string

	// ExitCode is the process exit code. -1 when the process never ran.
	ExitCode int
}

// Runner executes backend commands. The production implementation wraps
// os/exec; tests substitute a fake to script backend behavior.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands through os/exec with context cancellation.
type ExecRunner struct {
	// Dir is the working directory for every command, if set.
	Dir string
}

// Run executes the command and captures its output. A context deadline
// kills the process and surfaces a transient TIMEOUT error so the engine
// can convert the hang into a failed transition.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if ctx.Err() != nil {
			return res, arena.NewTransientError("command timed out", ctx.Err()).
				WithCode(arena.ErrCodeTimeout).
				WithOperation(name)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Nonzero exit is not an execution failure; callers decide
			// what the exit code means for their backend.
			return res, nil
		}

		// Binary missing, permission denied and similar.
		return res, arena.NewPermanentError("command could not be started", err).
			WithCode(arena.ErrCodeBackendUnavailable).
			WithOperation(name)
	}

	return res, nil
}

// runWithTimeout bounds a single backend call. Deployers use it so a
// wedged backend turns into a transient timeout instead of a hang.
func runWithTimeout(ctx context.Context, r Runner, timeout time.Duration, name string, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Run(ctx, name, args...)
}

// transientStderr reports whether backend stderr output looks like a
// transient infrastructure failure worth retrying.
func transientStderr(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timed out",
		"timeout",
		"temporarily unavailable",
		"tls handshake",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
