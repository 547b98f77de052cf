// Package store provides TabularStore implementations: an in-memory grid,
// SQLite via modernc.org/sqlite and PostgreSQL via pgx.
package store

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// MemoryStore is a TabularStore held in process memory.
// It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	cells map[core.CellRef]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: make(map[core.CellRef]string)}
}

// NewMemoryStoreFromRows creates a store pre-filled with rows of values.
func NewMemoryStoreFromRows(rows [][]string) *MemoryStore {
	s := NewMemoryStore()
	for r, row := range rows {
		for c, v := range row {
			if v != "" {
				s.cells[core.Cell(r, c)] = v
			}
		}
	}
	return s
}

// GetRange implements core.TabularStore.
func (s *MemoryStore) GetRange(ctx context.Context, ref core.RangeRef) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := newGrid(ref)
	for r := range out {
		for c := range out[r] {
			out[r][c] = s.cells[core.Cell(ref.StartRow+r, ref.StartCol+c)]
		}
	}
	return out, nil
}

// BatchGet implements core.TabularStore.
func (s *MemoryStore) BatchGet(ctx context.Context, refs []core.CellRef) (map[core.CellRef]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.CellRef]string, len(refs))
	for _, ref := range refs {
		out[ref] = s.cells[ref]
	}
	return out, nil
}

// SetCell implements core.TabularStore.
func (s *MemoryStore) SetCell(ctx context.Context, ref core.CellRef, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(ref, value)
	return nil
}

func (s *MemoryStore) set(ref core.CellRef, value string) {
	if value == "" {
		delete(s.cells, ref)
		return
	}
	s.cells[ref] = value
}

// BatchUpdate implements core.TabularStore.
func (s *MemoryStore) BatchUpdate(ctx context.Context, reqs []core.UpdateRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateUpdates(reqs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range reqs {
		switch req.Kind {
		case core.UpdateWriteCell:
			s.set(req.Cell, req.Value)
		default:
			s.shift(req)
		}
	}
	return nil
}

// shift applies a row or column insert/delete.
func (s *MemoryStore) shift(req core.UpdateRequest) {
	next := make(map[core.CellRef]string, len(s.cells))
	for ref, v := range s.cells {
		if moved, keep := shiftRef(ref, req); keep {
			next[moved] = v
		}
	}
	s.cells = next
}

// Dimensions implements core.TabularStore.
func (s *MemoryStore) Dimensions(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, cols := 0, 0
	for ref := range s.cells {
		if ref.Row+1 > rows {
			rows = ref.Row + 1
		}
		if ref.Col+1 > cols {
			cols = ref.Col + 1
		}
	}
	return rows, cols, nil
}

// Snapshot returns a copy of every non-empty cell.
func (s *MemoryStore) Snapshot() map[core.CellRef]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.CellRef]string, len(s.cells))
	for k, v := range s.cells {
		out[k] = v
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
