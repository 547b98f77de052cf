package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/fsutil"
)

var exportCmd = &cobra.Command{
	Use:   "export <file.csv|->",
	Short: "Dump the configured store as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if args[0] == "-" {
		return store.ExportCSV(cmd.Context(), st, cmd.OutOrStdout())
	}
	var buf bytes.Buffer
	if err := store.ExportCSV(cmd.Context(), st, &buf); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(args[0], buf.Bytes(), 0o644)
}
