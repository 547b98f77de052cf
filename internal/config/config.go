package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Report    ReportConfig    `mapstructure:"report"`
	API       APIConfig       `mapstructure:"api"`

	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the shared tabular store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite, postgres
	DSN    string `mapstructure:"dsn"`
	Sheet  string `mapstructure:"sheet"`
}

// SchedulerConfig configures the group scheduler loop.
type SchedulerConfig struct {
	MaxIterations   int           `mapstructure:"max_iterations"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Slots           int           `mapstructure:"slots"`
	FanoutSlots     int           `mapstructure:"fanout_slots"`
	BatchSize       int           `mapstructure:"batch_size"`
	ControlScanRows int           `mapstructure:"control_scan_rows"`
	Identity        string        `mapstructure:"identity"`
}

// RetryConfig configures group retry passes and store write retries.
type RetryConfig struct {
	MaxPasses      int             `mapstructure:"max_passes"`
	Delays         []time.Duration `mapstructure:"delays"`
	WriteAttempts  int             `mapstructure:"write_attempts"`
	WriteBaseDelay time.Duration   `mapstructure:"write_base_delay"`
}

// LeaseConfig configures lease staleness.
type LeaseConfig struct {
	DefaultMaxDuration   time.Duration            `mapstructure:"default_max_duration"`
	FunctionMaxDurations map[string]time.Duration `mapstructure:"function_max_durations"`
	WaitTimeout          time.Duration            `mapstructure:"wait_timeout"`
}

// WorkersConfig configures the worker adapters by kind.
type WorkersConfig struct {
	ChatGPT WorkerConfig `mapstructure:"chatgpt"`
	Claude  WorkerConfig `mapstructure:"claude"`
	Gemini  WorkerConfig `mapstructure:"gemini"`
}

// WorkerConfig configures a single worker adapter.
type WorkerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Path          string        `mapstructure:"path"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// ByKind returns the worker configs keyed by worker kind name.
func (w WorkersConfig) ByKind() map[string]WorkerConfig {
	return map[string]WorkerConfig{
		"chatgpt": w.ChatGPT,
		"claude":  w.Claude,
		"gemini":  w.Gemini,
	}
}

// ReportConfig configures the markdown report producer.
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

// DiagnosticsConfig configures crash dumps for panicking workers.
type DiagnosticsConfig struct {
	CrashDir   string `mapstructure:"crash_dir"`
	MaxDumps   int    `mapstructure:"max_dumps"`
	IncludeEnv bool   `mapstructure:"include_env"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// DefaultRetryDelays is the backoff table indexed by retry pass.
func DefaultRetryDelays() []time.Duration {
	return []time.Duration{
		30 * time.Second,
		60 * time.Second,
		5 * time.Minute,
		10 * time.Minute,
		20 * time.Minute,
		40 * time.Minute,
		60 * time.Minute,
		90 * time.Minute,
		120 * time.Minute,
		150 * time.Minute,
	}
}

// DefaultFunctionMaxDurations lists functions known to run longer than a plain answer.
func DefaultFunctionMaxDurations() map[string]time.Duration {
	return map[string]time.Duration{
		"deep research": 40 * time.Minute,
		"agent":         40 * time.Minute,
		"canvas":        15 * time.Minute,
	}
}
