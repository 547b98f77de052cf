package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStore(&cfg.Store)
	v.validateScheduler(&cfg.Scheduler)
	v.validateRetry(&cfg.Retry)
	v.validateLease(&cfg.Lease)
	v.validateWorkers(&cfg.Workers)
	if cfg.Diagnostics.MaxDumps < 0 {
		v.addError("diagnostics.max_dumps", cfg.Diagnostics.MaxDumps, "must not be negative")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	switch cfg.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			v.addError("store.dsn", cfg.DSN, "required for "+cfg.Driver)
		}
	default:
		v.addError("store.driver", cfg.Driver, "must be one of memory, sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Sheet) == "" {
		v.addError("store.sheet", cfg.Sheet, "must not be empty")
	}
}

func (v *Validator) validateScheduler(cfg *SchedulerConfig) {
	if cfg.MaxIterations < 1 {
		v.addError("scheduler.max_iterations", cfg.MaxIterations, "must be at least 1")
	}
	if cfg.PollInterval <= 0 {
		v.addError("scheduler.poll_interval", cfg.PollInterval, "must be positive")
	}
	if cfg.Slots < 1 {
		v.addError("scheduler.slots", cfg.Slots, "must be at least 1")
	}
	if cfg.FanoutSlots < 1 || cfg.FanoutSlots > 8 {
		v.addError("scheduler.fanout_slots", cfg.FanoutSlots, "must be between 1 and 8")
	}
	if cfg.BatchSize < 1 {
		v.addError("scheduler.batch_size", cfg.BatchSize, "must be at least 1")
	}
	if cfg.ControlScanRows < 2 {
		v.addError("scheduler.control_scan_rows", cfg.ControlScanRows, "must cover at least the menu and ai rows")
	}
}

func (v *Validator) validateRetry(cfg *RetryConfig) {
	if cfg.MaxPasses < 1 {
		v.addError("retry.max_passes", cfg.MaxPasses, "must be at least 1")
	}
	if len(cfg.Delays) == 0 {
		v.addError("retry.delays", cfg.Delays, "must list at least one delay")
	}
	for i := 1; i < len(cfg.Delays); i++ {
		if cfg.Delays[i] < cfg.Delays[i-1] {
			v.addError("retry.delays", cfg.Delays, "must be non-decreasing")
			break
		}
	}
	if cfg.WriteAttempts < 1 {
		v.addError("retry.write_attempts", cfg.WriteAttempts, "must be at least 1")
	}
}

func (v *Validator) validateLease(cfg *LeaseConfig) {
	if cfg.DefaultMaxDuration <= 0 {
		v.addError("lease.default_max_duration", cfg.DefaultMaxDuration, "must be positive")
	}
	for fn, d := range cfg.FunctionMaxDurations {
		if d <= 0 {
			v.addError("lease.function_max_durations."+fn, d, "must be positive")
		}
	}
	if cfg.WaitTimeout < 0 {
		v.addError("lease.wait_timeout", cfg.WaitTimeout, "must not be negative")
	}
}

func (v *Validator) validateWorkers(cfg *WorkersConfig) {
	enabled := 0
	for kind, w := range cfg.ByKind() {
		if !w.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(w.Path) == "" {
			v.addError("workers."+kind+".path", w.Path, "required when enabled")
		}
		if w.RatePerSecond < 0 {
			v.addError("workers."+kind+".rate_per_second", w.RatePerSecond, "must not be negative")
		}
	}
	if enabled == 0 {
		v.addError("workers", nil, "at least one worker kind must be enabled")
	}
}

// Validate is a convenience wrapper around Validator.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
