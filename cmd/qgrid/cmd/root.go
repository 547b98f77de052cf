package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
	jsonOut   bool

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// v backs the loader so flag bindings take precedence over files.
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "qgrid",
	Short: "Spreadsheet driven AI task grid scheduler",
	Long: `qgrid reads a shared sheet whose header rows describe groups of prompt
and answer columns, dispatches every unanswered prompt to the named AI
worker, and writes answers back while honoring group dependencies, cell
leases shared with other processes, and bounded retry passes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errRunFailed) {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./.qgrid.yaml or ~/.config/qgrid/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable styled output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"print results as JSON")

	// Bind flags to viper (errors are nil when flag exists)
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads and validates configuration for the current command.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
