package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

//go:embed migrations/001_cells.sql
var migrationV1 string

// batchChunk bounds the number of cells per BatchGet query.
const batchChunk = 200

// SQLiteStore persists a sheet in a SQLite file. Several processes may open
// the same file; WAL mode lets readers proceed while one writes.
type SQLiteStore struct {
	dbPath string
	sheet  string
	db     *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath, sheet string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{dbPath: dbPath, sheet: sheet, db: db}

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetRange implements core.TabularStore.
func (s *SQLiteStore) GetRange(ctx context.Context, ref core.RangeRef) ([][]string, error) {
	out := newGrid(ref)
	if len(out) == 0 || ref.Cols() == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_idx, col_idx, value FROM cells
		WHERE sheet = ? AND row_idx BETWEEN ? AND ? AND col_idx BETWEEN ? AND ?`,
		s.sheet, ref.StartRow, ref.EndRow, ref.StartCol, ref.EndCol)
	if err != nil {
		return nil, core.ErrStore("get_range", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return nil, core.ErrStore("get_range", err)
		}
		out[r-ref.StartRow][c-ref.StartCol] = v
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStore("get_range", err)
	}
	return out, nil
}

// BatchGet implements core.TabularStore.
func (s *SQLiteStore) BatchGet(ctx context.Context, refs []core.CellRef) (map[core.CellRef]string, error) {
	out := make(map[core.CellRef]string, len(refs))
	for _, ref := range refs {
		out[ref] = ""
	}
	for start := 0; start < len(refs); start += batchChunk {
		end := start + batchChunk
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		conds := make([]string, len(chunk))
		args := make([]any, 0, 1+2*len(chunk))
		args = append(args, s.sheet)
		for i, ref := range chunk {
			conds[i] = "(row_idx = ? AND col_idx = ?)"
			args = append(args, ref.Row, ref.Col)
		}
		query := "SELECT row_idx, col_idx, value FROM cells WHERE sheet = ? AND (" + strings.Join(conds, " OR ") + ")"

		if err := s.scanCells(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) scanCells(ctx context.Context, query string, args []any, out map[core.CellRef]string) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return core.ErrStore("batch_get", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return core.ErrStore("batch_get", err)
		}
		out[core.Cell(r, c)] = v
	}
	if err := rows.Err(); err != nil {
		return core.ErrStore("batch_get", err)
	}
	return nil
}

// SetCell implements core.TabularStore.
func (s *SQLiteStore) SetCell(ctx context.Context, ref core.CellRef, value string) error {
	if err := setCellSQL(ctx, s.db, s.sheet, ref, value); err != nil {
		return core.ErrStore("set_cell", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setCellSQL(ctx context.Context, db execer, sheet string, ref core.CellRef, value string) error {
	if value == "" {
		_, err := db.ExecContext(ctx,
			"DELETE FROM cells WHERE sheet = ? AND row_idx = ? AND col_idx = ?",
			sheet, ref.Row, ref.Col)
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO cells (sheet, row_idx, col_idx, value, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(sheet, row_idx, col_idx) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		sheet, ref.Row, ref.Col, value)
	return err
}

// BatchUpdate implements core.TabularStore. Requests are applied in order
// inside one transaction.
func (s *SQLiteStore) BatchUpdate(ctx context.Context, reqs []core.UpdateRequest) error {
	if err := validateUpdates(reqs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrStore("batch_update", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, req := range reqs {
		if err := applySQLiteUpdate(ctx, tx, s.sheet, req); err != nil {
			return core.ErrStore("batch_update", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.ErrStore("batch_update", err)
	}
	return nil
}

func applySQLiteUpdate(ctx context.Context, tx *sql.Tx, sheet string, req core.UpdateRequest) error {
	axis := "row_idx"
	if req.Kind == core.UpdateInsertColumn || req.Kind == core.UpdateDeleteColumn {
		axis = "col_idx"
	}

	switch req.Kind {
	case core.UpdateWriteCell:
		return setCellSQL(ctx, tx, sheet, req.Cell, req.Value)
	case core.UpdateDeleteRows, core.UpdateDeleteColumn:
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM cells WHERE sheet = ? AND %s >= ? AND %s < ?", axis, axis),
			sheet, req.Index, req.Index+req.Count); err != nil {
			return err
		}
		return shiftSQL(ctx, tx, sheet, axis, req.Index+req.Count, -req.Count)
	default:
		return shiftSQL(ctx, tx, sheet, axis, req.Index, req.Count)
	}
}

// shiftSQL moves every cell at or past from by delta along axis. Cells are
// first parked at negative indexes so the primary key never collides.
func shiftSQL(ctx context.Context, tx *sql.Tx, sheet, axis string, from, delta int) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE cells SET %s = -(%s + ?) - 1 WHERE sheet = ? AND %s >= ?", axis, axis, axis),
		delta, sheet, from); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE cells SET %s = -%s - 1 WHERE sheet = ? AND %s < 0", axis, axis, axis),
		sheet)
	return err
}

// Dimensions implements core.TabularStore.
func (s *SQLiteStore) Dimensions(ctx context.Context) (int, int, error) {
	var rows, cols int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(row_idx) + 1, 0), COALESCE(MAX(col_idx) + 1, 0) FROM cells WHERE sheet = ?",
		s.sheet).Scan(&rows, &cols)
	if err != nil {
		return 0, 0, core.ErrStore("dimensions", err)
	}
	return rows, cols, nil
}
