package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Sheet != "default" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Scheduler.MaxIterations != 50 {
		t.Errorf("Scheduler.MaxIterations = %d, want 50", cfg.Scheduler.MaxIterations)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second {
		t.Errorf("Scheduler.PollInterval = %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.Slots != 3 || cfg.Scheduler.FanoutSlots != 4 {
		t.Errorf("slots = %d/%d", cfg.Scheduler.Slots, cfg.Scheduler.FanoutSlots)
	}
	if cfg.Retry.MaxPasses != 10 {
		t.Errorf("Retry.MaxPasses = %d, want 10", cfg.Retry.MaxPasses)
	}
	if len(cfg.Retry.Delays) != 10 || cfg.Retry.Delays[0] != 30*time.Second || cfg.Retry.Delays[9] != 150*time.Minute {
		t.Errorf("Retry.Delays = %v", cfg.Retry.Delays)
	}
	if cfg.Lease.DefaultMaxDuration != 10*time.Minute {
		t.Errorf("Lease.DefaultMaxDuration = %v", cfg.Lease.DefaultMaxDuration)
	}
	if cfg.Lease.FunctionMaxDurations["deep research"] != 40*time.Minute {
		t.Errorf("Lease.FunctionMaxDurations = %v", cfg.Lease.FunctionMaxDurations)
	}
	if !cfg.Workers.Claude.Enabled || cfg.Workers.Claude.Path != "claude" {
		t.Errorf("Workers.Claude = %+v", cfg.Workers.Claude)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qgrid.yaml")
	content := `
store:
  driver: memory
scheduler:
  slots: 2
  poll_interval: 250ms
retry:
  delays: [1s, 2s]
lease:
  function_max_durations:
    agent: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader().WithConfigFile(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loader.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q", loader.ConfigFile())
	}
	if cfg.Store.Driver != "memory" || cfg.Scheduler.Slots != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Scheduler.PollInterval)
	}
	if len(cfg.Retry.Delays) != 2 || cfg.Retry.Delays[1] != 2*time.Second {
		t.Errorf("Delays = %v", cfg.Retry.Delays)
	}
	if cfg.Lease.FunctionMaxDurations["agent"] != 5*time.Minute {
		t.Errorf("FunctionMaxDurations = %v", cfg.Lease.FunctionMaxDurations)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QGRID_STORE_DRIVER", "postgres")
	t.Setenv("QGRID_STORE_DSN", "postgres://u:p@localhost/db")
	t.Setenv("QGRID_SCHEDULER_SLOTS", "6")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://u:p@localhost/db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Scheduler.Slots != 6 {
		t.Errorf("Slots = %d", cfg.Scheduler.Slots)
	}
}

func TestLoader_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().WithConfigFile(path).Load(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
