package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// Store is a TabularStore that holds resources.
type Store interface {
	core.TabularStore
	Close() error
}

// Options selects and configures a store backend.
type Options struct {
	Driver string // memory, sqlite, postgres
	DSN    string
	Sheet  string
}

// Open creates the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	sheet := strings.TrimSpace(opts.Sheet)
	if sheet == "" {
		sheet = "default"
	}
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(opts.DSN, sheet)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, opts.DSN, sheet)
	default:
		return nil, core.ErrValidation("UNKNOWN_STORE_DRIVER", fmt.Sprintf("unknown store driver %q", opts.Driver))
	}
}
