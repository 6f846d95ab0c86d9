package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

// DefaultTimeout bounds one validator run. Validators poll the deployed
// challenge, so a hung backend would otherwise hang the whole session.
const DefaultTimeout = 30 * time.Second

// DefaultScriptName is the validator executable expected in each level.
const DefaultScriptName = "validate.sh"

// ScriptValidator runs a level's validator script with the candidate flag
// as its single argument.
type ScriptValidator struct {
	scriptName string
	timeout    time.Duration
	logger     zerolog.Logger
}

// ScriptOption configures a ScriptValidator.
type ScriptOption func(*ScriptValidator)

// WithScriptName overrides the validator file name looked up per level.
func WithScriptName(name string) ScriptOption {
	return func(v *ScriptValidator) { v.scriptName = name }
}

// WithTimeout overrides the per-run deadline.
func WithTimeout(d time.Duration) ScriptOption {
	return func(v *ScriptValidator) { v.timeout = d }
}

// NewScriptValidator creates a validator with the default script name and
// timeout.
func NewScriptValidator(logger zerolog.Logger, opts ...ScriptOption) *ScriptValidator {
	v := &ScriptValidator{
		scriptName: DefaultScriptName,
		timeout:    DefaultTimeout,
		logger:     logger.With().Str("component", "validation").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the level's validator with flag as its only argument.
// Exit 0 passes; any other exit is a VALIDATION_FAILED permanent error
// carrying the script's output so the player sees what went wrong.
// The returned string is the script's trimmed output on success.
func (v *ScriptValidator) Validate(ctx context.Context, levelPath, flag string) (string, error) {
	script := filepath.Join(levelPath, v.scriptName)
	info, err := os.Stat(script)
	if err != nil {
		return "", arena.NewPermanentError(
			fmt.Sprintf("validator script %s not found", v.scriptName), err).
			WithCode(arena.ErrCodeValidationFailed).
			WithOperation("validate")
	}
	if info.Mode()&0o111 == 0 {
		return "", arena.NewPermanentError(
			fmt.Sprintf("validator script %s is not executable", v.scriptName), nil).
			WithCode(arena.ErrCodeValidationFailed).
			WithOperation("validate")
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, script, flag)
	cmd.Dir = levelPath

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	output := strings.TrimSpace(out.String())

	v.logger.Debug().
		Str("level", levelPath).
		Dur("elapsed", time.Since(start)).
		Bool("passed", err == nil).
		Msg("validator finished")

	if err == nil {
		return output, nil
	}

	if ctx.Err() != nil {
		return output, arena.NewTransientError("validator timed out", ctx.Err()).
			WithCode(arena.ErrCodeTimeout).
			WithOperation("validate")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := "flag rejected"
		if output != "" {
			msg = output
		}
		return output, arena.NewPermanentError(msg, nil).
			WithCode(arena.ErrCodeValidationFailed).
			WithOperation("validate")
	}

	return output, arena.NewPermanentError("validator could not be started", err).
		WithCode(arena.ErrCodeValidationFailed).
		WithOperation("validate")
}
