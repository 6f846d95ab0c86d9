// Package config holds process-level settings for the arena binary.
// Everything here comes from the environment with sensible defaults;
// per-domain configuration lives in domain.yaml, not here.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Settings are the process-level knobs of the arena.
type Settings struct {
	// DomainsDir is where domain directories are discovered.
	DomainsDir string `env:"ARENA_DOMAINS_DIR" envDefault:"./domains" validate:"required"`

	// ProgressDB is the SQLite progress ledger path.
	ProgressDB string `env:"ARENA_PROGRESS_DB" validate:"required"`

	// Interactive controls whether warning-severity commands may ask for
	// confirmation. Non-interactive runs block them outright.
	Interactive bool `env:"ARENA_INTERACTIVE" envDefault:"true"`

	// PatternsFile optionally extends the built-in safety patterns.
	PatternsFile string `env:"ARENA_PATTERNS_FILE"`

	// ValidatorScript is the validator file name expected in each level.
	ValidatorScript string `env:"ARENA_VALIDATOR_SCRIPT" envDefault:"validate.sh" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads settings from the environment. The progress ledger defaults
// to ~/.arena/progress.db when unset.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, err
	}

	if s.ProgressDB == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		s.ProgressDB = filepath.Join(home, ".arena", "progress.db")
	}

	if err := validate.Struct(s); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureLedgerDir creates the directory that holds the progress ledger.
func (s *Settings) EnsureLedgerDir() error {
	return os.MkdirAll(filepath.Dir(s.ProgressDB), 0o755)
}
