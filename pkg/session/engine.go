package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/devsec-arena/arena/pkg/arena"
	"github.com/devsec-arena/arena/pkg/telemetry"
)

// Defaults for lifecycle operations. Deploys are slow (image pulls,
// namespace recreation); everything else should answer quickly.
const (
	defaultDeployTimeout  = 5 * time.Minute
	defaultCleanupTimeout = 2 * time.Minute
	defaultStatusTimeout  = 30 * time.Second

	defaultDeployAttempts = 3
	defaultBackoffBase    = 2 * time.Second
)

// Engine owns one player session against one domain. All state mutation
// goes through its mutex; collaborators are called outside critical
// sections only when they cannot race on session state.
type Engine struct {
	id       string
	domainID string

	deployer  arena.Deployer
	validator arena.Validator
	guard     arena.Guard
	tracker   arena.Tracker

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	deployTimeout  time.Duration
	cleanupTimeout time.Duration
	deployAttempts int
	backoffBase    time.Duration

	mu        sync.Mutex
	state     State
	current   *arena.Challenge
	hintsUsed int
	cleaned   bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics attaches the metrics collector.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches the tracer.
func WithTracer(t *telemetry.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithDeployTimeout overrides the per-deploy deadline.
func WithDeployTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.deployTimeout = d }
}

// WithCleanupTimeout overrides the per-cleanup deadline.
func WithCleanupTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.cleanupTimeout = d }
}

// WithRetryPolicy overrides the transient-deploy retry policy.
func WithRetryPolicy(attempts int, backoffBase time.Duration) EngineOption {
	return func(e *Engine) {
		e.deployAttempts = attempts
		e.backoffBase = backoffBase
	}
}

// NewEngine creates an idle session engine for one domain.
func NewEngine(domainID string, deployer arena.Deployer, validator arena.Validator, guard arena.Guard, tracker arena.Tracker, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		id:             uuid.NewString(),
		domainID:       domainID,
		deployer:       deployer,
		validator:      validator,
		guard:          guard,
		tracker:        tracker,
		metrics:        telemetry.NewMetrics(false),
		deployTimeout:  defaultDeployTimeout,
		cleanupTimeout: defaultCleanupTimeout,
		deployAttempts: defaultDeployAttempts,
		backoffBase:    defaultBackoffBase,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.With().
		Str("component", "session").
		Str("session_id", e.id).
		Str("domain", domainID).
		Logger()
	return e
}

// ID returns the session id.
func (e *Engine) ID() string { return e.id }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns the selected challenge, if any.
func (e *Engine) Current() *arena.Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// transition moves the state machine. Callers must hold the mutex.
func (e *Engine) transition(to State) error {
	if !canTransition(e.state, to) {
		return arena.NewPermanentError(
			fmt.Sprintf("illegal transition %s -> %s", e.state, to), nil).
			WithOperation("transition")
	}
	from := e.state
	e.state = to
	e.metrics.RecordTransition(string(from), string(to))
	e.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	return nil
}

// Select deploys a challenge and makes it the active one. The previous
// challenge's resources are cleaned up first; health check and safety
// gate failures leave the session exactly where it was.
func (e *Engine) Select(ctx context.Context, challenge *arena.Challenge) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDeploying || e.state == StateValidating {
		return arena.NewConflictError("an operation is already in flight", nil).
			WithOperation("select")
	}

	// Gates run before any state changes so failure leaves the session
	// untouched.
	if ok, reason := e.deployer.HealthCheck(ctx); !ok {
		e.logger.Warn().Str("reason", reason).Msg("backend health check failed")
		return arena.NewTransientError(reason, nil).
			WithCode(arena.ErrCodeBackendUnavailable).
			WithChallenge(challenge.ID).
			WithOperation("select")
	}
	if err := e.guard.PreDeployCheck(challenge.Path); err != nil {
		e.logger.Warn().Err(err).Str("challenge", challenge.ID).Msg("pre-deploy safety check failed")
		return err
	}

	// Cleanup before redeploy: the namespace is a singleton.
	if e.state.HoldsNamespace() {
		if err := e.cleanupLocked(ctx); err != nil {
			return err
		}
		if err := e.transition(StateCleanedUp); err != nil {
			return err
		}
	}

	if err := e.transition(StateDeploying); err != nil {
		return err
	}
	e.current = challenge
	e.hintsUsed = 0
	e.cleaned = false

	start := time.Now()
	err := e.deployWithRetry(ctx, challenge)
	if err != nil {
		e.metrics.RecordDeploy(e.domainID, "failure", time.Since(start).Seconds())
		_ = e.transition(StateFailed)
		e.logger.Error().Err(err).Str("challenge", challenge.ID).Msg("deploy failed")
		return err
	}

	e.metrics.RecordDeploy(e.domainID, "success", time.Since(start).Seconds())
	if err := e.transition(StateActive); err != nil {
		return err
	}
	e.logger.Info().Str("challenge", challenge.ID).Msg("challenge active")
	return nil
}

// deployWithRetry retries transient deploy failures with exponential
// backoff. Conflicts and permanent errors surface immediately.
func (e *Engine) deployWithRetry(ctx context.Context, challenge *arena.Challenge) error {
	var lastErr error
	for attempt := 1; attempt <= e.deployAttempts; attempt++ {
		deployCtx, cancel := context.WithTimeout(ctx, e.deployTimeout)
		err := e.deployOnce(deployCtx, challenge)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !arena.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt < e.deployAttempts {
			backoff := e.backoffBase * time.Duration(1<<(attempt-1))
			e.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("transient deploy failure, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return arena.NewTransientError("deploy cancelled", ctx.Err()).
					WithCode(arena.ErrCodeTimeout).
					WithChallenge(challenge.ID)
			}
		}
	}
	return lastErr
}

func (e *Engine) deployOnce(ctx context.Context, challenge *arena.Challenge) error {
	if e.tracer != nil {
		spanCtx, span := e.tracer.StartSpan(ctx, "deploy",
			attribute.String("challenge", challenge.ID))
		err := e.deployer.Deploy(spanCtx, challenge.Path)
		telemetry.EndSpan(span, err)
		return err
	}
	return e.deployer.Deploy(ctx, challenge.Path)
}

// SubmitFlag validates a flag against the active challenge. A correct
// flag completes the challenge and awards XP at most once; a wrong flag
// returns the session to ACTIVE with unlimited retries.
func (e *Engine) SubmitFlag(ctx context.Context, flag string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return "", arena.NewConflictError(
			fmt.Sprintf("no active challenge to validate (state %s)", e.state), nil).
			WithOperation("submit-flag")
	}
	if err := e.transition(StateValidating); err != nil {
		return "", err
	}

	challenge := e.current
	start := time.Now()
	output, err := e.validator.Validate(ctx, challenge.Path, flag)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		e.metrics.RecordValidation(e.domainID, "pass", elapsed)
		if err := e.transition(StateCompleted); err != nil {
			return output, err
		}
		if terr := e.tracker.RecordCompletion(ctx, e.domainID, challenge.ID, challenge.XP); terr != nil {
			// The challenge is still complete; only persistence suffered.
			e.logger.Warn().Err(terr).Msg("recording completion failed")
		}
		e.metrics.RecordCompletion(e.domainID, challenge.XP)
		e.logger.Info().
			Str("challenge", challenge.ID).
			Int("xp", challenge.XP).
			Msg("challenge completed")
		return output, nil
	}

	if arena.HasCode(err, arena.ErrCodeTimeout) {
		e.metrics.RecordValidation(e.domainID, "timeout", elapsed)
		_ = e.transition(StateFailed)
		e.logger.Error().Err(err).Msg("validator hung, session failed")
		return output, err
	}

	e.metrics.RecordValidation(e.domainID, "fail", elapsed)
	if terr := e.transition(StateActive); terr != nil {
		return output, terr
	}
	e.logger.Info().Str("challenge", challenge.ID).Msg("flag rejected, challenge still active")
	return output, err
}

// Hint records a hint request and returns the next hint text, if the
// level ships hint files. Requesting a hint never changes state.
func (e *Engine) Hint(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.state.Terminal() {
		return "", arena.NewConflictError("no active challenge to hint", nil).
			WithOperation("hint")
	}

	e.hintsUsed++
	if err := e.tracker.RecordHint(ctx, e.domainID, e.current.ID); err != nil {
		e.logger.Warn().Err(err).Msg("recording hint failed")
	}
	e.metrics.RecordHint()

	path := filepath.Join(e.current.Path, "hint-"+strconv.Itoa(e.hintsUsed)+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", arena.NewPermanentError("no more hints for this challenge", nil).
			WithChallenge(e.current.ID).
			WithOperation("hint")
	}
	return string(data), nil
}

// HintsUsed returns the hints taken for the current challenge.
func (e *Engine) HintsUsed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hintsUsed
}

// StatusCheck reports the backend's view of the current challenge.
func (e *Engine) StatusCheck(ctx context.Context) (*arena.BackendStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return &arena.BackendStatus{Ready: false, Message: "no challenge selected"}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultStatusTimeout)
	defer cancel()
	return e.deployer.Status(ctx, e.current.Path)
}

// CheckCommand gates a candidate command through the safety guard,
// recording blocks in metrics. The engine never executes commands; the
// verdict is advice for whatever shell the player uses.
func (e *Engine) CheckCommand(command string, interactive bool) arena.Verdict {
	verdict := e.guard.ValidateCommand(command, interactive)
	if !verdict.Allowed {
		e.metrics.RecordSafetyBlock(string(verdict.Severity))
		e.logger.Warn().
			Str("severity", string(verdict.Severity)).
			Str("command", command).
			Msg("command blocked")
	}
	return verdict
}

// Skip abandons the current challenge: cleanup runs exactly once, no XP
// is awarded, and the session ends in CLEANED_UP.
func (e *Engine) Skip(ctx context.Context) error {
	return e.abandon(ctx, "skip")
}

// Quit ends the session, cleaning up any deployed challenge. Safe to
// call from any state, including a second time.
func (e *Engine) Quit(ctx context.Context) error {
	return e.abandon(ctx, "quit")
}

func (e *Engine) abandon(ctx context.Context, op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateCleanedUp {
		return nil
	}
	if err := e.cleanupLocked(ctx); err != nil {
		return err
	}
	if err := e.transition(StateCleanedUp); err != nil {
		return err
	}
	e.logger.Info().Str("op", op).Msg("session cleaned up")
	return nil
}

// cleanupLocked removes deployed resources at most once per challenge.
// Callers must hold the mutex.
func (e *Engine) cleanupLocked(ctx context.Context) error {
	if e.cleaned || e.current == nil {
		e.cleaned = true
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cleanupTimeout)
	defer cancel()
	if err := e.deployer.Cleanup(ctx, e.current.Path); err != nil {
		e.logger.Error().Err(err).Msg("cleanup failed")
		return err
	}
	e.cleaned = true
	return nil
}

// Completed returns the completion map for the engine's domain so the
// caller can resume at the first uncompleted challenge.
func (e *Engine) Completed(ctx context.Context) (map[string]arena.ChallengeProgress, error) {
	return e.tracker.Progress(ctx, e.domainID)
}

// FirstUncompleted returns the first challenge in order that has not
// been completed, or nil when everything is done.
func (e *Engine) FirstUncompleted(ctx context.Context, challenges []arena.Challenge) (*arena.Challenge, error) {
	progress, err := e.tracker.Progress(ctx, e.domainID)
	if err != nil {
		return nil, err
	}
	for i := range challenges {
		if !progress[challenges[i].ID].Completed {
			return &challenges[i], nil
		}
	}
	return nil, nil
}
