package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides (QGRID_STORE_DSN, ...).
const EnvPrefix = "QGRID"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (QGRID_*)
// 3. Project config (.qgrid.yaml in current directory)
// 4. User config (~/.config/qgrid/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".qgrid")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "qgrid"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if len(cfg.Retry.Delays) == 0 {
		cfg.Retry.Delays = DefaultRetryDelays()
	}
	if cfg.Lease.FunctionMaxDurations == nil {
		cfg.Lease.FunctionMaxDurations = DefaultFunctionMaxDurations()
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("store.driver", "sqlite")
	l.v.SetDefault("store.dsn", ".qgrid/sheet.db")
	l.v.SetDefault("store.sheet", "default")

	l.v.SetDefault("scheduler.max_iterations", 50)
	l.v.SetDefault("scheduler.poll_interval", "5s")
	l.v.SetDefault("scheduler.slots", 3)
	l.v.SetDefault("scheduler.fanout_slots", 4)
	l.v.SetDefault("scheduler.batch_size", 3)
	l.v.SetDefault("scheduler.control_scan_rows", 10)
	l.v.SetDefault("scheduler.identity", "")

	l.v.SetDefault("retry.max_passes", 10)
	l.v.SetDefault("retry.write_attempts", 3)
	l.v.SetDefault("retry.write_base_delay", "500ms")

	l.v.SetDefault("lease.default_max_duration", "10m")
	l.v.SetDefault("lease.wait_timeout", "0s")

	l.v.SetDefault("workers.chatgpt.enabled", true)
	l.v.SetDefault("workers.chatgpt.path", "codex")
	l.v.SetDefault("workers.chatgpt.timeout", "10m")
	l.v.SetDefault("workers.chatgpt.rate_per_second", 0.5)
	l.v.SetDefault("workers.chatgpt.burst", 3)
	l.v.SetDefault("workers.claude.enabled", true)
	l.v.SetDefault("workers.claude.path", "claude")
	l.v.SetDefault("workers.claude.timeout", "10m")
	l.v.SetDefault("workers.claude.rate_per_second", 0.5)
	l.v.SetDefault("workers.claude.burst", 3)
	l.v.SetDefault("workers.gemini.enabled", true)
	l.v.SetDefault("workers.gemini.path", "gemini")
	l.v.SetDefault("workers.gemini.timeout", "10m")
	l.v.SetDefault("workers.gemini.rate_per_second", 1)
	l.v.SetDefault("workers.gemini.burst", 3)

	l.v.SetDefault("report.dir", ".qgrid/reports")
	l.v.SetDefault("api.listen", "")

	l.v.SetDefault("diagnostics.crash_dir", ".qgrid/crashdumps")
	l.v.SetDefault("diagnostics.max_dumps", 10)
	l.v.SetDefault("diagnostics.include_env", false)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
