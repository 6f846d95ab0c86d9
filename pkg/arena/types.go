package arena

import (
	"fmt"
	"time"
)

// Backend identifies the deployment tooling a domain uses.
type Backend string

const (
	// BackendKubectl deploys challenges as Kubernetes manifests via kubectl.
	BackendKubectl Backend = "kubectl"

	// BackendCompose deploys challenges as Docker Compose projects.
	BackendCompose Backend = "docker-compose"

	// BackendNone is for domains whose challenges need no infrastructure.
	BackendNone Backend = "none"
)

// Validate checks if the backend is one of the recognized values.
func (b Backend) Validate() error {
	switch b {
	case BackendKubectl, BackendCompose, BackendNone:
		return nil
	default:
		return fmt.Errorf("unrecognized deployment backend: %q", b)
	}
}

// DomainConfig is the declarative configuration of a training domain.
// It is loaded from domain.yaml and immutable afterwards.
type DomainConfig struct {
	// ID is the unique domain identifier (e.g., "kubernetes").
	ID string `yaml:"domain_id" validate:"required"`

	// Name is the display name (e.g., "Kubernetes Security").
	Name string `yaml:"name" validate:"required"`

	// Icon is a short glyph shown next to the domain in listings.
	Icon string `yaml:"icon"`

	// Description is a one-line summary of what the domain teaches.
	Description string `yaml:"description"`

	// Backend selects the deployment tooling for this domain.
	Backend Backend `yaml:"deployment_backend" validate:"required,oneof=kubectl docker-compose none"`

	// Namespace is the isolation boundary shared by every challenge in the
	// domain: a Kubernetes namespace or a compose project prefix.
	Namespace string `yaml:"namespace"`

	// SafetyEnabled controls whether the safety guard gates commands.
	SafetyEnabled bool `yaml:"safety_enabled"`

	// Worlds lists the world directories, in play order.
	Worlds []string `yaml:"worlds" validate:"required,min=1"`

	// TotalXP is the XP available across all challenges in the domain.
	TotalXP int `yaml:"total_xp" validate:"gte=0"`
}

// Challenge is a single exercise: a broken starting state plus a validator.
type Challenge struct {
	// ID is the unique challenge identifier (e.g., "world-1-basics/level-01-pods").
	ID string `json:"id"`

	// Name is the display name from mission.yaml.
	Name string `json:"name"`

	// World is the world directory name this challenge belongs to.
	World string `json:"world"`

	// WorldIndex is the numeric index of the world, starting at 1.
	WorldIndex int `json:"world_index"`

	// LevelIndex is the numeric index of the level within its world.
	// Discovery orders challenges by this value.
	LevelIndex int `json:"level_index"`

	// XP is the reward for completing the challenge. Always positive.
	XP int `json:"xp"`

	// Difficulty is the declared difficulty tier.
	Difficulty string `json:"difficulty"`

	// Concepts lists the security concepts the challenge exercises.
	Concepts []string `json:"concepts,omitempty"`

	// ExpectedTime is the estimated completion time, free-form.
	ExpectedTime string `json:"expected_time,omitempty"`

	// Path is the absolute path to the level's file bundle.
	Path string `json:"path"`
}

// DeployStatus is the in-memory deployment status of a challenge.
type DeployStatus string

const (
	// DeployStatusNotDeployed means no resources exist for the challenge.
	DeployStatusNotDeployed DeployStatus = "not_deployed"

	// DeployStatusDeploying means a deploy is in flight.
	DeployStatusDeploying DeployStatus = "deploying"

	// DeployStatusDeployed means the challenge environment is up.
	DeployStatusDeployed DeployStatus = "deployed"

	// DeployStatusFailed means the last deploy attempt failed.
	DeployStatusFailed DeployStatus = "failed"

	// DeployStatusCleanedUp means resources were removed.
	DeployStatusCleanedUp DeployStatus = "cleaned_up"
)

// Active reports whether the status holds the shared namespace.
// At most one challenge per session may be active.
func (s DeployStatus) Active() bool {
	return s == DeployStatusDeploying || s == DeployStatusDeployed
}

// DeploymentState tracks which challenge currently owns the domain's
// namespace. It is never persisted.
type DeploymentState struct {
	// ChallengeID is the challenge the state refers to.
	ChallengeID string `json:"challenge_id"`

	// Status is the current deployment status.
	Status DeployStatus `json:"status"`

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// BackendStatus is the structured status a deployer reports for a
// deployed challenge. Details are backend-specific.
type BackendStatus struct {
	// Ready indicates the challenge resources are in their expected state.
	// Many challenges are intentionally broken, so Ready false is normal.
	Ready bool `json:"ready"`

	// Message is a human-readable status line.
	Message string `json:"message"`

	// Details carries backend-specific fields (pod phase, container list).
	Details map[string]any `json:"details,omitempty"`
}

// Severity classifies how dangerous a matched command is.
type Severity string

const (
	// SeveritySafe means no pattern matched.
	SeveritySafe Severity = "safe"

	// SeverityWarning requires user confirmation before execution.
	SeverityWarning Severity = "warning"

	// SeverityCritical blocks execution unconditionally.
	SeverityCritical Severity = "critical"
)

// Verdict is the outcome of a safety check on a candidate command.
type Verdict struct {
	// Allowed is whether the command may be executed.
	Allowed bool `json:"allowed"`

	// Message explains the verdict when a pattern matched.
	Message string `json:"message,omitempty"`

	// Severity is the severity of the first matching pattern, or safe.
	Severity Severity `json:"severity"`

	// Suggestion is an optional safer alternative.
	Suggestion string `json:"suggestion,omitempty"`
}

// ChallengeProgress is the per-challenge slice of the progress ledger.
type ChallengeProgress struct {
	// Completed is whether the challenge has been solved.
	Completed bool `json:"completed"`

	// XPEarned is the XP awarded for this challenge. Awarded at most once.
	XPEarned int `json:"xp_earned"`

	// HintsUsed counts hint requests made while the challenge was active.
	HintsUsed int `json:"hints_used"`
}
