package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dojosync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadFromFile verifies YAML values override defaults.
func TestLoadFromFile(t *testing.T) {
	t.Setenv("DOJOSYNC_DEV_MODE", "true")

	path := writeConfig(t, `
server:
  port: 9100
backend:
  url: https://backend.example.com
  timeout: 10s
sync:
  interval: 5m
storage:
  buckets:
    - dojo-media
    - dojo-media-legacy
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Backend.URL != "https://backend.example.com" {
		t.Errorf("backend url = %s", cfg.Backend.URL)
	}
	if time.Duration(cfg.Backend.Timeout) != 10*time.Second {
		t.Errorf("backend timeout = %v", time.Duration(cfg.Backend.Timeout))
	}
	if time.Duration(cfg.Sync.Interval) != 5*time.Minute {
		t.Errorf("sync interval = %v", time.Duration(cfg.Sync.Interval))
	}
	if len(cfg.Storage.Buckets) != 2 || cfg.Storage.Buckets[0] != "dojo-media" {
		t.Errorf("buckets = %v", cfg.Storage.Buckets)
	}
	// Defaults survive for untouched fields.
	if time.Duration(cfg.Sync.PassTimeout) != 5*time.Minute {
		t.Errorf("pass timeout default = %v", time.Duration(cfg.Sync.PassTimeout))
	}
}

// TestEnvOverrides verifies env vars take precedence over YAML.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOJOSYNC_DEV_MODE", "true")
	t.Setenv("DOJOSYNC_PORT", "9200")
	t.Setenv("DOJOSYNC_BACKEND_API_KEY", "secret-key")
	t.Setenv("DOJOSYNC_SYNC_INTERVAL", "1m")

	path := writeConfig(t, `
server:
  port: 9100
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want env override 9200", cfg.Server.Port)
	}
	if cfg.Backend.APIKey != "secret-key" {
		t.Errorf("api key = %q", cfg.Backend.APIKey)
	}
	if time.Duration(cfg.Sync.Interval) != time.Minute {
		t.Errorf("interval = %v", time.Duration(cfg.Sync.Interval))
	}
}

// TestValidate verifies the backend requirement outside dev mode.
func TestValidate(t *testing.T) {
	t.Setenv("DOJOSYNC_DEV_MODE", "")
	t.Setenv("DOJOSYNC_BACKEND_URL", "")
	t.Setenv("DOJOSYNC_BACKEND_API_KEY", "")

	path := writeConfig(t, `
log:
  level: debug
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile succeeded without backend settings")
	}
}

// TestInvalidDuration verifies malformed durations are rejected.
func TestInvalidDuration(t *testing.T) {
	t.Setenv("DOJOSYNC_DEV_MODE", "true")
	path := writeConfig(t, `
sync:
  interval: quickly
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile accepted an invalid duration")
	}
}
