package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		Store: StoreConfig{Driver: "memory", Sheet: "default"},
		Scheduler: SchedulerConfig{
			MaxIterations:   50,
			PollInterval:    5 * time.Second,
			Slots:           3,
			FanoutSlots:     4,
			BatchSize:       3,
			ControlScanRows: 10,
		},
		Retry: RetryConfig{
			MaxPasses:      10,
			Delays:         DefaultRetryDelays(),
			WriteAttempts:  3,
			WriteBaseDelay: 500 * time.Millisecond,
		},
		Lease: LeaseConfig{
			DefaultMaxDuration:   10 * time.Minute,
			FunctionMaxDurations: DefaultFunctionMaxDurations(),
		},
		Workers: WorkersConfig{
			Claude: WorkerConfig{Enabled: true, Path: "claude"},
		},
	}
}

func TestValidator_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidator_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero slots", func(c *Config) { c.Scheduler.Slots = 0 }, "scheduler.slots"},
		{"fanout too wide", func(c *Config) { c.Scheduler.FanoutSlots = 9 }, "scheduler.fanout_slots"},
		{"no delays", func(c *Config) { c.Retry.Delays = nil }, "retry.delays"},
		{"decreasing delays", func(c *Config) { c.Retry.Delays = []time.Duration{time.Minute, time.Second} }, "retry.delays"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, "store.dsn"},
		{"zero poll interval", func(c *Config) { c.Scheduler.PollInterval = 0 }, "scheduler.poll_interval"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"no workers", func(c *Config) { c.Workers.Claude.Enabled = false }, "workers"},
		{"negative max dumps", func(c *Config) { c.Diagnostics.MaxDumps = -1 }, "diagnostics.max_dumps"},
		{"enabled worker without path", func(c *Config) { c.Workers.Gemini = WorkerConfig{Enabled: true} }, "workers.gemini.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, err)
			}
		})
	}
}

func TestValidationErrors_Joined(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.Slots = 0
	cfg.Retry.MaxPasses = 0
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "; ") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}
