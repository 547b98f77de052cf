package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/report"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/api"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/control"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every ready group of the sheet",
	Long: `Run analyzes the sheet, then processes groups in dependency order until
no group is left, a group exhausts its retry passes, or the iteration cap
is reached. The first interrupt stops after in-flight tasks finish; a
second one cancels them.`,
	RunE: runRun,
}

var (
	runGroups   []string
	runTestMode bool
	runEcho     bool
	runListen   string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&runGroups, "group", nil, "restrict the run to these group ids (repeatable)")
	runCmd.Flags().BoolVar(&runTestMode, "test-mode", false, "one batch per group, no retry delays")
	runCmd.Flags().BoolVar(&runEcho, "echo", false, "answer every task with its prompt instead of calling AI CLIs")
	runCmd.Flags().StringVar(&runListen, "listen", "", "serve the control surface on this address (overrides api.listen)")
}

// gridRuntime wires the scheduler and its collaborators from config.
type gridRuntime struct {
	sched    *grid.Scheduler
	bus      *events.EventBus
	metrics  *service.MetricsCollector
	limits   *service.RateLimiterRegistry
	registry *cli.Registry
}

func buildRuntime(cfg *config.Config, logger *logging.Logger, echo bool) *gridRuntime {
	registry := cli.NewRegistry(logger)
	cli.ConfigureFromConfig(registry, cfg.Workers)
	if echo {
		registry.RouteAllTo(core.WorkerEcho)
	}

	limits := service.NewRateLimiterRegistry()
	cli.ApplyRateLimits(cfg.Workers, limits)

	bus := events.New(256)
	metrics := service.NewMetricsCollector()
	crash := diagnostics.NewCrashDumpWriter(cfg.Diagnostics.CrashDir, cfg.Diagnostics.MaxDumps,
		cfg.Diagnostics.IncludeEnv, logger)
	sched := grid.New(grid.OptionsFromConfig(cfg), grid.Deps{
		Factory:  registry,
		Producer: report.NewProducer(report.Config{Dir: cfg.Report.Dir}, logger),
		Limits:   limits,
		Metrics:  metrics,
		Bus:      bus,
		Control:  control.New(),
		Logger:   logger,
		Crash:    crash,
	})
	return &gridRuntime{sched: sched, bus: bus, metrics: metrics, limits: limits, registry: registry}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	rt := buildRuntime(cfg, logger, runEcho)
	defer rt.bus.Close()
	watchRateLimits(v, logger, rt.limits)

	if !runEcho {
		for kind, availErr := range rt.registry.Available() {
			if availErr != nil {
				logger.Warn("worker CLI not found", "kind", kind, "error", availErr)
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("interrupt received, stopping after in-flight tasks")
			rt.sched.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			logger.Warn("second interrupt, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()

	listen := cfg.API.Listen
	if runListen != "" {
		listen = runListen
	}
	if listen != "" {
		srv := api.NewServer(rt.sched, rt.bus,
			api.WithLogger(logger),
			api.WithMetrics(rt.metrics.Handler()))
		go func() {
			if err := srv.ListenAndServe(ctx, listen); err != nil {
				logger.Error("control surface failed", "error", err)
			}
		}()
	}

	result, runErr := rt.sched.Run(ctx, st, grid.RunOptions{TaskGroups: runGroups, TestMode: runTestMode})
	if result != nil {
		if err := printRunResult(cmd, result); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if !result.Success {
		return errRunFailed
	}
	return nil
}

func printRunResult(cmd *cobra.Command, result *grid.RunResult) error {
	mode := outputMode()
	if mode == tui.ModeJSON {
		return outputJSON(cmd.OutOrStdout(), result)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), tui.NewRenderer(mode).RunSummary(result))
	return err
}
