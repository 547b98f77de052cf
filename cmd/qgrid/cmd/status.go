package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running scheduler's control surface",
	RunE:  runStatus,
}

var statusAddr string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8080", "control surface base URL")
}

func fetchStatus(ctx context.Context, addr string) (grid.Status, error) {
	var st grid.Status
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v1/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("querying %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("querying %s: %s", base, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	st, err := fetchStatus(cmd.Context(), statusAddr)
	if err != nil {
		return err
	}
	mode := outputMode()
	if mode == tui.ModeJSON {
		return outputJSON(cmd.OutOrStdout(), st)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), tui.NewRenderer(mode).Status(st))
	return err
}
