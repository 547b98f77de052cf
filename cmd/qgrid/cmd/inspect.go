package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/tui"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the groups the analyzer finds in the sheet",
	RunE:  runInspect,
}

var inspectCrash bool

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectCrash, "crash", false, "show the latest worker crash dump instead")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if inspectCrash {
		return showCrashDump(cmd, cfg.Diagnostics.CrashDir)
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	analyzer := grid.NewAnalyzer(cfg.Scheduler.ControlScanRows, newLogger(cfg))
	layout, err := analyzer.Analyze(cmd.Context(), st)
	if err != nil {
		return err
	}

	mode := outputMode()
	if mode == tui.ModeJSON {
		return outputJSON(cmd.OutOrStdout(), layout)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), tui.NewRenderer(mode).Layout(layout))
	return err
}

func showCrashDump(cmd *cobra.Command, dir string) error {
	if dir == "" {
		dir = diagnostics.DefaultDir
	}
	dump, err := diagnostics.LoadLatestCrashDump(dir)
	if err != nil {
		return err
	}
	mode := outputMode()
	if mode == tui.ModeJSON {
		return outputJSON(cmd.OutOrStdout(), dump)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), tui.NewRenderer(mode).CrashDump(dump))
	return err
}
