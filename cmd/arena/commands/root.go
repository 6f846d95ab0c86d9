package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/devsec-arena/arena/pkg/config"
	"github.com/devsec-arena/arena/pkg/domain"
	"github.com/devsec-arena/arena/pkg/safety"
	"github.com/devsec-arena/arena/pkg/telemetry"
)

var verbose bool

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	rootCmd := newRootCommand(version)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arena",
		Short: "DevSec Arena - hands-on security training challenges",
		Long: `DevSec Arena deploys intentionally broken infrastructure into an
isolated namespace, lets you break in (or fix it), and validates your
work against each level's success criteria.

Domains:
  - Each domain (Kubernetes, Docker, ...) ships worlds of numbered levels
  - A safety guard blocks commands that would damage shared infrastructure
  - Progress and XP persist in a local ledger across sessions`,
		Version: version,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newDomainsCommand())
	rootCmd.AddCommand(newChallengesCommand())
	rootCmd.AddCommand(newDoctorCommand())
	rootCmd.AddCommand(newProgressCommand())
	rootCmd.AddCommand(newSafetyCommand())

	return rootCmd
}

// setup loads settings, builds the logger, and loads every domain.
// Shared by all subcommands; the CLI itself holds no challenge logic.
func setup(opts ...domain.LoadOption) (*config.Settings, zerolog.Logger, *domain.Registry, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("loading settings: %w", err)
	}

	telemetryCfg, err := telemetry.LoadConfig()
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("loading telemetry settings: %w", err)
	}
	if verbose {
		telemetryCfg.LogLevel = "debug"
	}
	logger := telemetry.NewLogger(telemetryCfg)

	registry := domain.NewRegistry(logger)
	loadOpts := append([]domain.LoadOption{
		domain.WithValidatorScript(settings.ValidatorScript),
	}, opts...)
	if settings.PatternsFile != "" {
		patterns, err := safety.NewLoader(logger).LoadFile(settings.PatternsFile)
		if err != nil {
			return nil, logger, nil, fmt.Errorf("loading safety patterns: %w", err)
		}
		loadOpts = append(loadOpts, domain.WithExtraPatterns(patterns))
	}
	if err := registry.LoadAll(settings.DomainsDir, loadOpts...); err != nil {
		return nil, logger, nil, err
	}
	return settings, logger, registry, nil
}

// pickDomain resolves the --domain flag against the registry. With one
// loaded domain the flag is optional.
func pickDomain(registry *domain.Registry, id string) (*domain.Domain, error) {
	if id == "" {
		domains := registry.List()
		if len(domains) == 1 {
			return domains[0], nil
		}
		return nil, fmt.Errorf("multiple domains loaded, pick one with --domain")
	}
	d, ok := registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown domain %q", id)
	}
	return d, nil
}
