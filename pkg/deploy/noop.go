package deploy

import (
	"context"
	"sync"

	"github.com/devsec-arena/arena/pkg/arena"
)

// NoopDeployer backs domains whose challenges need no infrastructure,
// such as pure code-review levels. It still enforces the one-at-a-time
// deployment contract so the engine behaves identically across backends.
type NoopDeployer struct {
	mu       sync.Mutex
	deployed string
}

// NewNoopDeployer creates a deployer that provisions nothing.
func NewNoopDeployer() *NoopDeployer {
	return &NoopDeployer{}
}

// HealthCheck always succeeds.
func (d *NoopDeployer) HealthCheck(ctx context.Context) (bool, string) {
	return true, "no backend required"
}

// Deploy records the level as active. A second Deploy without Cleanup is
// the same conflict a real backend would report.
func (d *NoopDeployer) Deploy(ctx context.Context, levelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deployed != "" {
		return arena.NewConflictError("a challenge is already active", nil).
			WithCode(arena.ErrCodeAlreadyDeployed).
			WithOperation("deploy")
	}
	d.deployed = levelPath
	return nil
}

// Cleanup clears the active level. Cleaning nothing is a no-op success.
func (d *NoopDeployer) Cleanup(ctx context.Context, levelPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployed = ""
	return nil
}

// Status reports whether a level is active.
func (d *NoopDeployer) Status(ctx context.Context, levelPath string) (*arena.BackendStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deployed == "" {
		return &arena.BackendStatus{Ready: false, Message: "nothing deployed"}, nil
	}
	return &arena.BackendStatus{Ready: true, Message: "challenge active"}, nil
}
