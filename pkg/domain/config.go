package domain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/devsec-arena/arena/pkg/arena"
)

// ConfigFileName is the declarative domain configuration expected at the
// root of every domain directory.
const ConfigFileName = "domain.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads and validates a domain.yaml from a domain directory.
// Any structural or semantic problem is a CONFIG_INVALID permanent error,
// fatal to this domain only.
func LoadConfig(dir string) (*arena.DomainConfig, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("reading %s", ConfigFileName), err).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-config")
	}

	var cfg arena.DomainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("parsing %s", ConfigFileName), err).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-config")
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("invalid %s", ConfigFileName), err).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-config")
	}
	if err := cfg.Backend.Validate(); err != nil {
		return nil, arena.NewPermanentError(err.Error(), nil).
			WithCode(arena.ErrCodeConfigInvalid).
			WithOperation("load-config")
	}

	// Namespace defaults to the domain ID so two domains never collide on
	// the backend's isolation boundary by accident.
	if cfg.Namespace == "" {
		cfg.Namespace = "arena-" + cfg.ID
	}

	for _, world := range cfg.Worlds {
		if info, err := os.Stat(filepath.Join(dir, world)); err != nil || !info.IsDir() {
			return nil, arena.NewPermanentError(
				fmt.Sprintf("world directory %q not found", world), err).
				WithCode(arena.ErrCodeConfigInvalid).
				WithOperation("load-config")
		}
	}

	return &cfg, nil
}
