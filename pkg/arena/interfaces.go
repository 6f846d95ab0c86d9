package arena

import "context"

// Deployer manages the infrastructure lifecycle of one challenge at a time
// on behalf of a domain. Implementations are backend-specific (kubectl,
// docker-compose, none) but share this contract.
type Deployer interface {
	// HealthCheck verifies the backend tooling is installed and reachable.
	// Must succeed before any deploy is attempted.
	HealthCheck(ctx context.Context) (bool, string)

	// Deploy stands up the challenge environment from the level bundle.
	// Idempotent: a second call without an intervening Cleanup returns a
	// conflict error with code ALREADY_DEPLOYED instead of creating
	// duplicate resources.
	Deploy(ctx context.Context, levelPath string) error

	// Cleanup removes all resources created by Deploy. Calling it when
	// nothing is deployed is a no-op success, not an error.
	Cleanup(ctx context.Context, levelPath string) error

	// Status reports the current state of the deployed challenge.
	Status(ctx context.Context, levelPath string) (*BackendStatus, error)
}

// Validator runs a challenge's pass/fail check against a submitted flag.
// The contract with challenge content is exit code zero plus a success
// indicator on stdout; nothing else is assumed.
type Validator interface {
	// Validate returns nil if the flag passes, or an error with code
	// VALIDATION_FAILED if it does not.
	Validate(ctx context.Context, levelPath, flag string) (string, error)
}

// Guard classifies candidate commands by risk before execution.
type Guard interface {
	// Patterns returns the ordered pattern sequence. Order encodes
	// precedence: evaluation stops at the first match.
	Patterns() []Pattern

	// ValidateCommand checks a command against the pattern sequence.
	// A critical match is blocked regardless of confirmation; a warning
	// match defers to the confirmer when interactive and is blocked
	// otherwise.
	ValidateCommand(command string, interactive bool) Verdict

	// PreDeployCheck scans a level's deployment artifacts for critical
	// patterns before the deployer touches them.
	PreDeployCheck(levelPath string) error

	// Info returns a human-readable description of what is protected.
	Info() string
}

// Pattern is one entry in a guard's ordered pattern sequence.
type Pattern struct {
	// Expr is the regular expression matched against commands.
	Expr string `yaml:"pattern"`

	// Message is shown to the user when the pattern matches.
	Message string `yaml:"message"`

	// Severity is how dangerous a match is.
	Severity Severity `yaml:"severity"`

	// Suggestion is an optional safer alternative.
	Suggestion string `yaml:"suggestion,omitempty"`
}

// Confirmer collects a yes/no answer for warning-severity commands.
// The CLI supplies a prompt-backed implementation; tests supply fakes.
type Confirmer interface {
	Confirm(message string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(message string) bool

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(message string) bool { return f(message) }

// Visualizer renders domain-specific views of a running challenge.
// Optional: domains without one use a no-op implementation.
type Visualizer interface {
	// Snapshot returns a display-ready description of the challenge
	// environment for the given level.
	Snapshot(ctx context.Context, levelPath string) (string, error)
}

// Tracker persists the completion and XP ledger.
type Tracker interface {
	// RecordCompletion marks a challenge complete and awards XP.
	// Idempotent: repeated calls for a completed challenge change nothing.
	RecordCompletion(ctx context.Context, domainID, challengeID string, xp int) error

	// RecordHint increments the hint counter for a challenge.
	RecordHint(ctx context.Context, domainID, challengeID string) error

	// Progress returns the ledger slice for one domain, keyed by
	// challenge ID.
	Progress(ctx context.Context, domainID string) (map[string]ChallengeProgress, error)

	// TotalXP returns the XP earned in one domain.
	TotalXP(ctx context.Context, domainID string) (int, error)

	// Reset clears all progress for one domain.
	Reset(ctx context.Context, domainID string) error

	// Close releases the underlying storage.
	Close() error
}
