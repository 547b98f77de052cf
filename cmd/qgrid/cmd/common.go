package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/tui"
)

// errRunFailed signals a completed run with success=false; the summary has
// already been printed.
var errRunFailed = errors.New("run did not succeed")

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
		Sheet:  cfg.Store.Sheet,
	})
}

func outputMode() tui.OutputMode {
	d := tui.NewDetector().NoColor(noColor)
	if jsonOut {
		d.ForceMode(tui.ModeJSON)
	}
	return d.Detect()
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
