package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.DomainsDir != "./domains" {
		t.Errorf("DomainsDir = %q, want ./domains", s.DomainsDir)
	}
	if !strings.HasSuffix(s.ProgressDB, filepath.Join(".arena", "progress.db")) {
		t.Errorf("ProgressDB = %q, want default under ~/.arena", s.ProgressDB)
	}
	if !s.Interactive {
		t.Error("Interactive should default to true")
	}
	if s.ValidatorScript != "validate.sh" {
		t.Errorf("ValidatorScript = %q", s.ValidatorScript)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARENA_DOMAINS_DIR", "/opt/arena/domains")
	t.Setenv("ARENA_PROGRESS_DB", "/tmp/arena.db")
	t.Setenv("ARENA_INTERACTIVE", "false")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.DomainsDir != "/opt/arena/domains" || s.ProgressDB != "/tmp/arena.db" {
		t.Errorf("Load() = %+v, env overrides not applied", s)
	}
	if s.Interactive {
		t.Error("Interactive override not applied")
	}
}
