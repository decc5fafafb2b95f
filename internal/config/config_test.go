package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Snapshot.Schedule != "@every 5s" {
		t.Errorf("Expected 5 second snapshots, got %q", cfg.Snapshot.Schedule)
	}
	if cfg.Forecast.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", cfg.Forecast.Timeout)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "twin.yaml")
	data := []byte("server:\n  port: 9090\nforecast:\n  base_url: http://forecast:5000\n  timeout: 5s\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("TWIN_DATABASE_PATH", "/tmp/other.db")
	t.Setenv("TWIN_SERVER_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected env to override file, got port %d", cfg.Server.Port)
	}
	if cfg.Forecast.BaseURL != "http://forecast:5000" || cfg.Forecast.Timeout != 5*time.Second {
		t.Errorf("Expected file values, got %+v", cfg.Forecast)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("Expected env database path, got %q", cfg.Database.Path)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TWIN_SERVER_PORT", "70000")
	if _, err := Load(""); err == nil {
		t.Error("Expected an invalid port to be rejected")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing explicit config file")
	}
}
