package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults alone must not validate: backends are required")
	}

	cfg.Database.URL = "postgres://localhost/dlpmon"
	cfg.Redis.URL = "redis://localhost:6379"
	cfg.Index.URL = "mongodb://localhost:27017"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
server:
  listen_addr: ":9090"

database:
  url: postgres://db:5432/dlpmon

redis:
  url: redis://cache:6379/0

index:
  url: mongodb://index:27017
  collection: prompts

auth:
  enrollment_key: fleet-secret

liveness:
  offline_threshold: 2m
`
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Auth.EnrollmentKey != "fleet-secret" {
		t.Errorf("enrollment_key = %q", cfg.Auth.EnrollmentKey)
	}
	if cfg.Liveness.OfflineThreshold != 2*time.Minute {
		t.Errorf("offline_threshold = %v, want 2m", cfg.Liveness.OfflineThreshold)
	}

	// Partial files keep defaults for untouched sections.
	if cfg.Index.Collection != "prompts" {
		t.Errorf("collection = %q, want prompts", cfg.Index.Collection)
	}
	if cfg.Index.Database != "dlpmon" {
		t.Errorf("database = %q, want default dlpmon", cfg.Index.Database)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("workers = %d, want default 4", cfg.Ingest.Workers)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DLPMON_DATABASE_URL", "postgres://env:5432/dlpmon")
	t.Setenv("DLPMON_ENROLLMENT_KEY", "from-env")

	cfg := DefaultConfig()
	cfg.Auth.EnrollmentKey = "from-file"
	cfg.ApplyEnvOverrides()

	if cfg.Database.URL != "postgres://env:5432/dlpmon" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Auth.EnrollmentKey != "from-env" {
		t.Errorf("enrollment key = %q, want env override", cfg.Auth.EnrollmentKey)
	}
}
