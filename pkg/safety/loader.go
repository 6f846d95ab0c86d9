package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/devsec-arena/arena/pkg/arena"
)

// Loader reads additional safety patterns from YAML files. Files hold an
// ordered list of {pattern, message, severity, suggestion} entries;
// declaration order is preserved because it encodes precedence.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	cache   map[string][]arena.Pattern
	watcher *fsnotify.Watcher
}

// NewLoader creates a new pattern loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "safety-loader").Logger(),
		cache:  make(map[string][]arena.Pattern),
	}
}

// LoadFile loads the ordered pattern list from one YAML file.
func (l *Loader) LoadFile(path string) ([]arena.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, arena.NewPermanentError("failed to read pattern file", err).
			WithCode(arena.ErrCodeConfigInvalid)
	}

	var patterns []arena.Pattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("failed to parse pattern file %s", filepath.Base(path)), err).
			WithCode(arena.ErrCodeConfigInvalid)
	}

	for i, p := range patterns {
		if p.Expr == "" {
			return nil, arena.NewPermanentError(
				fmt.Sprintf("pattern %d in %s has no expression", i, filepath.Base(path)), nil).
				WithCode(arena.ErrCodeConfigInvalid)
		}
	}

	l.mu.Lock()
	l.cache[path] = patterns
	l.mu.Unlock()

	l.logger.Debug().
		Str("file", path).
		Int("patterns", len(patterns)).
		Msg("Safety patterns loaded")

	return patterns, nil
}

// Cached returns the last loaded patterns for a path, if any.
func (l *Loader) Cached(path string) ([]arena.Pattern, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	patterns, ok := l.cache[path]
	return patterns, ok
}

// Watch reloads a pattern file whenever it changes on disk. The onChange
// callback receives the freshly loaded sequence. Stop the watch by
// calling Close.
func (l *Loader) Watch(path string, onChange func([]arena.Pattern)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				patterns, err := l.LoadFile(path)
				if err != nil {
					l.logger.Warn().Err(err).Str("file", path).
						Msg("Pattern file changed but failed to reload")
					continue
				}
				onChange(patterns)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn().Err(err).Msg("Pattern watcher error")
			}
		}
	}()

	return nil
}

// Close stops any active file watch.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
