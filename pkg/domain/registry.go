package domain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
	"github.com/devsec-arena/arena/pkg/deploy"
	"github.com/devsec-arena/arena/pkg/safety"
	"github.com/devsec-arena/arena/pkg/validation"
)

// factory builds the backend-specific collaborators for one domain.
type factory func(cfg *arena.DomainConfig, logger zerolog.Logger, opts *loadOptions) (arena.Deployer, arena.Guard, arena.Visualizer, error)

// factories is the compiled backend registry. Adding a backend means
// adding an entry here; nothing is resolved dynamically.
var factories = map[arena.Backend]factory{
	arena.BackendKubectl: func(cfg *arena.DomainConfig, logger zerolog.Logger, opts *loadOptions) (arena.Deployer, arena.Guard, arena.Visualizer, error) {
		deployer := deploy.NewKubectlDeployer(cfg.Namespace, logger)
		guard, err := buildGuard(cfg, safety.KubectlPatterns(cfg.Namespace), logger, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		return deployer, guard, &backendVisualizer{deployer: deployer}, nil
	},
	arena.BackendCompose: func(cfg *arena.DomainConfig, logger zerolog.Logger, opts *loadOptions) (arena.Deployer, arena.Guard, arena.Visualizer, error) {
		deployer := deploy.NewComposeDeployer(cfg.Namespace, logger)
		guard, err := buildGuard(cfg, safety.ComposePatterns(cfg.Namespace), logger, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		return deployer, guard, &backendVisualizer{deployer: deployer}, nil
	},
	arena.BackendNone: func(cfg *arena.DomainConfig, logger zerolog.Logger, opts *loadOptions) (arena.Deployer, arena.Guard, arena.Visualizer, error) {
		guard, err := buildGuard(cfg, nil, logger, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		return deploy.NewNoopDeployer(), guard, noopVisualizer{}, nil
	},
}

// buildGuard honors safety_enabled; a disabled guard allows everything.
// Extra patterns are appended after the builtins so builtin criticals keep
// precedence.
func buildGuard(cfg *arena.DomainConfig, patterns []arena.Pattern, logger zerolog.Logger, opts *loadOptions) (arena.Guard, error) {
	if !cfg.SafetyEnabled {
		return safety.NoopGuard{}, nil
	}
	patterns = append(patterns, opts.extraPatterns...)
	if len(patterns) == 0 {
		return safety.NoopGuard{}, nil
	}
	return safety.NewRegexGuard(patterns,
		safety.WithLogger(logger),
		safety.WithConfirmer(opts.confirmer),
		safety.WithInfo(fmt.Sprintf("protecting namespace %s for domain %s", cfg.Namespace, cfg.ID)),
	)
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	confirmer     arena.Confirmer
	scriptName    string
	extraPatterns []arena.Pattern
}

// WithConfirmer injects the prompt used for warning-severity commands.
func WithConfirmer(c arena.Confirmer) LoadOption {
	return func(o *loadOptions) { o.confirmer = c }
}

// WithValidatorScript overrides the validator file name for every level.
func WithValidatorScript(name string) LoadOption {
	return func(o *loadOptions) { o.scriptName = name }
}

// WithExtraPatterns appends operator-supplied safety patterns to every
// enabled guard, after the builtins.
func WithExtraPatterns(patterns []arena.Pattern) LoadOption {
	return func(o *loadOptions) { o.extraPatterns = patterns }
}

// Load reads a domain directory and constructs the full domain: config,
// deployer, guard, validator, visualizer.
func Load(dir string, logger zerolog.Logger, opts ...LoadOption) (*Domain, error) {
	options := loadOptions{
		confirmer:  arena.ConfirmerFunc(func(string) bool { return false }),
		scriptName: validation.DefaultScriptName,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	build, ok := factories[cfg.Backend]
	if !ok {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("no factory for backend %q", cfg.Backend), nil).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-domain")
	}

	domainLogger := logger.With().Str("domain", cfg.ID).Logger()
	deployer, guard, visualizer, err := build(cfg, domainLogger, &options)
	if err != nil {
		return nil, err
	}

	return &Domain{
		config:     cfg,
		dir:        dir,
		scriptName: options.scriptName,
		deployer:   deployer,
		validator:  validation.NewScriptValidator(domainLogger, validation.WithScriptName(options.scriptName)),
		guard:      guard,
		visualizer: visualizer,
		logger:     domainLogger,
	}, nil
}

// Registry holds every loadable domain, keyed by ID.
type Registry struct {
	domains map[string]*Domain
	order   []string
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		domains: make(map[string]*Domain),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// LoadAll loads every domain directory under root. A broken domain is
// skipped with a logged error; LoadAll fails only when nothing loads.
func (r *Registry) LoadAll(root string, opts ...LoadOption) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return arena.NewPermanentError("reading domains directory", err).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-all")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
			continue
		}

		d, err := Load(dir, r.logger, opts...)
		if err != nil {
			r.logger.Error().Str("dir", entry.Name()).Err(err).Msg("skipping unloadable domain")
			continue
		}
		if _, dup := r.domains[d.config.ID]; dup {
			r.logger.Error().Str("domain", d.config.ID).Msg("duplicate domain id, keeping first")
			continue
		}
		r.domains[d.config.ID] = d
		r.order = append(r.order, d.config.ID)
		r.logger.Info().Str("domain", d.config.ID).Str("backend", string(d.config.Backend)).Msg("domain loaded")
	}

	if len(r.domains) == 0 {
		return arena.NewPermanentError("no loadable domains found", nil).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-all")
	}
	return nil
}

// Get returns one domain by ID.
func (r *Registry) Get(id string) (*Domain, bool) {
	d, ok := r.domains[id]
	return d, ok
}

// List returns the loaded domains in load order.
func (r *Registry) List() []*Domain {
	out := make([]*Domain, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.domains[id])
	}
	return out
}

// Close releases every domain's watcher.
func (r *Registry) Close() error {
	var firstErr error
	for _, d := range r.domains {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
