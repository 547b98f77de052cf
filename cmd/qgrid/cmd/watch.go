package cmd

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// watchRateLimits re-applies worker rate limits whenever the config file
// in use changes. Other settings take effect on the next run.
func watchRateLimits(vp *viper.Viper, logger *logging.Logger, limits *service.RateLimiterRegistry) {
	if vp.ConfigFileUsed() == "" {
		return
	}
	vp.OnConfigChange(reloadRateLimits(vp, logger, limits))
	vp.WatchConfig()
}

func reloadRateLimits(vp *viper.Viper, logger *logging.Logger, limits *service.RateLimiterRegistry) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg config.Config
		if err := vp.Unmarshal(&cfg); err != nil {
			logger.Warn("ignoring unreadable config change", "file", e.Name, "error", err)
			return
		}
		cli.ApplyRateLimits(cfg.Workers, limits)
		logger.Info("worker rate limits reloaded", "file", e.Name)
	}
}
