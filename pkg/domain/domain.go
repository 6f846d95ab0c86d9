package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
	"github.com/devsec-arena/arena/pkg/validation"
)

// Domain is one loaded training domain: its configuration plus the
// backend-specific collaborators constructed for it.
type Domain struct {
	config     *arena.DomainConfig
	dir        string
	scriptName string

	deployer   arena.Deployer
	validator  arena.Validator
	guard      arena.Guard
	visualizer arena.Visualizer

	logger zerolog.Logger

	mu      sync.Mutex
	cache   []arena.Challenge
	watcher *fsnotify.Watcher
}

// Config returns the domain's immutable configuration.
func (d *Domain) Config() *arena.DomainConfig { return d.config }

// Dir returns the domain's root directory.
func (d *Domain) Dir() string { return d.dir }

// Deployer returns the domain's deployment backend.
func (d *Domain) Deployer() arena.Deployer { return d.deployer }

// Validator returns the domain's flag validator.
func (d *Domain) Validator() arena.Validator { return d.validator }

// Guard returns the domain's safety guard.
func (d *Domain) Guard() arena.Guard { return d.guard }

// Visualizer returns the domain's environment visualizer.
func (d *Domain) Visualizer() arena.Visualizer { return d.visualizer }

// Watch invalidates the discovery cache whenever a declared world
// directory changes on disk. Close releases the watcher.
func (d *Domain) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, world := range d.config.Worlds {
		if err := watcher.Add(filepath.Join(d.dir, world)); err != nil {
			watcher.Close()
			return err
		}
	}

	d.mu.Lock()
	d.watcher = watcher
	d.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					d.logger.Debug().Str("file", event.Name).Msg("challenge content changed, invalidating cache")
					d.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn().Err(err).Msg("content watcher error")
			}
		}
	}()
	return nil
}

// Close stops the content watcher, if running.
func (d *Domain) Close() error {
	d.mu.Lock()
	watcher := d.watcher
	d.watcher = nil
	d.mu.Unlock()
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// noopVisualizer backs domains without a backend-specific view.
type noopVisualizer struct{}

func (noopVisualizer) Snapshot(ctx context.Context, levelPath string) (string, error) {
	return "", nil
}

// backendVisualizer renders the deployer's status report as text.
type backendVisualizer struct {
	deployer arena.Deployer
}

func (v *backendVisualizer) Snapshot(ctx context.Context, levelPath string) (string, error) {
	status, err := v.deployer.Status(ctx, levelPath)
	if err != nil {
		return "", err
	}
	out := status.Message
	for name, detail := range status.Details {
		out += fmt.Sprintf("\n  %s: %v", name, detail)
	}
	return out, nil
}

// ensure interface satisfaction at compile time
var (
	_ arena.Validator  = (*validation.ScriptValidator)(nil)
	_ arena.Visualizer = (*backendVisualizer)(nil)
	_ arena.Visualizer = noopVisualizer{}
)
