package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

// artifactExtensions are the deployment artifact types scanned by
// PreDeployCheck. Everything else in a level bundle is inert content.
var artifactExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".sh":   true,
}

// RegexGuard evaluates commands against an ordered pattern sequence.
// Order encodes precedence: more specific and more dangerous patterns
// must be declared first because evaluation stops at the first match.
type RegexGuard struct {
	patterns  []arena.Pattern
	compiled  []*regexp.Regexp
	confirmer arena.Confirmer
	enabled   bool
	info      string
	logger    zerolog.Logger
}

// Option configures a RegexGuard.
type Option func(*RegexGuard)

// WithConfirmer sets the collaborator consulted for warning-severity
// matches in interactive contexts.
func WithConfirmer(c arena.Confirmer) Option {
	return func(g *RegexGuard) { g.confirmer = c }
}

// WithInfo sets the human-readable protection summary.
func WithInfo(info string) Option {
	return func(g *RegexGuard) { g.info = info }
}

// WithLogger sets the guard's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *RegexGuard) {
		g.logger = logger.With().Str("component", "safety-guard").Logger()
	}
}

// NewRegexGuard compiles the pattern sequence into a guard. Patterns are
// kept in declaration order; a pattern that fails to compile is rejected.
func NewRegexGuard(patterns []arena.Pattern, opts ...Option) (*RegexGuard, error) {
	g := &RegexGuard{
		patterns: patterns,
		compiled: make([]*regexp.Regexp, 0, len(patterns)),
		enabled:  true,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	for i, p := range patterns {
		if p.Severity != arena.SeverityWarning && p.Severity != arena.SeverityCritical {
			return nil, arena.NewPermanentError(
				fmt.Sprintf("pattern %d has severity %q, want warning or critical", i, p.Severity), nil).
				WithCode(arena.ErrCodeConfigInvalid)
		}

		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, arena.NewPermanentError(
				fmt.Sprintf("pattern %d does not compile", i), err).
				WithCode(arena.ErrCodeConfigInvalid)
		}
		g.compiled = append(g.compiled, re)
	}

	return g, nil
}

// Patterns returns the ordered pattern sequence.
func (g *RegexGuard) Patterns() []arena.Pattern {
	out := make([]arena.Pattern, len(g.patterns))
	copy(out, g.patterns)
	return out
}

// Enabled reports whether the guard is gating commands.
func (g *RegexGuard) Enabled() bool { return g.enabled }

// Disable turns the guard off. Every command is allowed afterwards.
func (g *RegexGuard) Disable() { g.enabled = false }

// Enable turns the guard back on.
func (g *RegexGuard) Enable() { g.enabled = true }

// ValidateCommand evaluates a command against the pattern sequence in
// declaration order and returns the verdict of the first match.
//
// A critical match is blocked regardless of interactivity; confirmation
// cannot override it. A warning match defers to the confirmer when
// interactive and is blocked when not: a non-interactive caller must
// never silently proceed past a warning.
func (g *RegexGuard) ValidateCommand(command string, interactive bool) arena.Verdict {
	if !g.enabled {
		return arena.Verdict{Allowed: true, Severity: arena.SeveritySafe}
	}

	for i, re := range g.compiled {
		if !re.MatchString(command) {
			continue
		}

		p := g.patterns[i]
		switch p.Severity {
		case arena.SeverityCritical:
			g.logger.Warn().
				Str("command", command).
				Str("pattern", p.Expr).
				Msg("Command blocked by critical safety pattern")
			return arena.Verdict{
				Allowed:    false,
				Message:    p.Message,
				Severity:   arena.SeverityCritical,
				Suggestion: p.Suggestion,
			}

		case arena.SeverityWarning:
			if interactive && g.confirmer != nil && g.confirmer.Confirm(p.Message) {
				return arena.Verdict{
					Allowed:    true,
					Message:    p.Message,
					Severity:   arena.SeverityWarning,
					Suggestion: p.Suggestion,
				}
			}
			return arena.Verdict{
				Allowed:    false,
				Message:    p.Message,
				Severity:   arena.SeverityWarning,
				Suggestion: p.Suggestion,
			}
		}
	}

	return arena.Verdict{Allowed: true, Severity: arena.SeveritySafe}
}

// PreDeployCheck scans the level's deployment artifacts for critical
// patterns before the deployer touches them. Defense in depth against
// malicious or broken challenge content: a match fails the deploy with
// SAFETY_BLOCKED.
func (g *RegexGuard) PreDeployCheck(levelPath string) error {
	if !g.enabled {
		return nil
	}

	entries, err := os.ReadDir(levelPath)
	if err != nil {
		return arena.NewPermanentError("cannot read level directory", err).
			WithCode(arena.ErrCodeDeployFailed).
			WithOperation("pre_deploy_check")
	}

	for _, entry := range entries {
		if entry.IsDir() || !artifactExtensions[filepath.Ext(entry.Name())] {
			continue
		}

		path := filepath.Join(levelPath, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return arena.NewPermanentError(
				fmt.Sprintf("cannot read deployment artifact %s", entry.Name()), err).
				WithCode(arena.ErrCodeDeployFailed).
				WithOperation("pre_deploy_check")
		}

		for _, line := range strings.Split(string(data), "\n") {
			for i, re := range g.compiled {
				if g.patterns[i].Severity != arena.SeverityCritical {
					continue
				}
				if re.MatchString(line) {
					g.logger.Warn().
						Str("artifact", entry.Name()).
						Str("pattern", g.patterns[i].Expr).
						Msg("Critical pattern found in deployment artifact")
					return arena.NewPermanentError(
						fmt.Sprintf("deployment artifact %s contains a blocked operation: %s",
							entry.Name(), g.patterns[i].Message), nil).
						WithCode(arena.ErrCodeSafetyBlocked).
						WithOperation("pre_deploy_check")
				}
			}
		}
	}

	return nil
}

// Info returns the human-readable protection summary.
func (g *RegexGuard) Info() string {
	if g.info != "" {
		return g.info
	}
	return "Safety guard enabled: destructive operations are blocked or require confirmation."
}

// NoopGuard allows everything. Used by domains with safety disabled and
// by the "none" backend.
type NoopGuard struct{}

// Patterns returns an empty sequence.
func (NoopGuard) Patterns() []arena.Pattern { return nil }

// ValidateCommand always allows the command.
func (NoopGuard) ValidateCommand(command string, interactive bool) arena.Verdict {
	return arena.Verdict{Allowed: true, Severity: arena.SeveritySafe}
}

// PreDeployCheck always passes.
func (NoopGuard) PreDeployCheck(levelPath string) error { return nil }

// Info reports that safety restrictions are disabled.
func (NoopGuard) Info() string {
	return "Safety guard disabled: all commands are allowed."
}
