package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/fsutil"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv|file.yaml>",
	Short: "Load a sheet file into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var importFormat string

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importFormat, "format", "", "input format: csv or yaml (default: from extension)")
}

func importFormatFor(path, explicit string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(explicit))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = "csv"
		case ".yaml", ".yml":
			format = "yaml"
		default:
			return "", fmt.Errorf("cannot infer format of %s; use --format", path)
		}
	}
	if format != "csv" && format != "yaml" {
		return "", fmt.Errorf("unsupported format %q", format)
	}
	return format, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	format, err := importFormatFor(args[0], importFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := fsutil.ReadFileScoped(args[0])
	if err != nil {
		return err
	}
	f := bytes.NewReader(data)

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var n int
	if format == "yaml" {
		n, err = store.ImportYAML(cmd.Context(), st, f)
	} else {
		n, err = store.ImportCSV(cmd.Context(), st, f)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d cells into %s sheet %q\n", n, cfg.Store.Driver, cfg.Store.Sheet)
	return nil
}
