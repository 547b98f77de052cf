package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// PostgresStore keeps a sheet in PostgreSQL so processes on different
// machines can share it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	sheet string
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL, sheet string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCellSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, sheet: sheet}, nil
}

func initCellSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cells (
			sheet TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			col_idx INTEGER NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (sheet, row_idx, col_idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cells_sheet_col ON cells (sheet, col_idx, row_idx);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init cell schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetRange implements core.TabularStore.
func (s *PostgresStore) GetRange(ctx context.Context, ref core.RangeRef) ([][]string, error) {
	out := newGrid(ref)
	if len(out) == 0 || ref.Cols() == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT row_idx, col_idx, value FROM cells
		WHERE sheet=$1 AND row_idx BETWEEN $2 AND $3 AND col_idx BETWEEN $4 AND $5`,
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

// BatchGet implements core.TabularStore in a single round-trip.
func (s *PostgresStore) BatchGet(ctx context.Context, refs []core.CellRef) (map[core.CellRef]string, error) {
	out := make(map[core.CellRef]string, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rowIdx := make([]int32, len(refs))
	colIdx := make([]int32, len(refs))
	for i, ref := range refs {
		out[ref] = ""
		rowIdx[i] = int32(ref.Row)
		colIdx[i] = int32(ref.Col)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.row_idx, c.col_idx, c.value
		FROM cells c
		JOIN unnest($2::int[], $3::int[]) AS k(row_idx, col_idx)
		  ON c.row_idx = k.row_idx AND c.col_idx = k.col_idx
		WHERE c.sheet=$1`,
		s.sheet, rowIdx, colIdx)
	if err != nil {
		return nil, core.ErrStore("batch_get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return nil, core.ErrStore("batch_get", err)
		}
		out[core.Cell(r, c)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStore("batch_get", err)
	}
	return out, nil
}

// SetCell implements core.TabularStore.
func (s *PostgresStore) SetCell(ctx context.Context, ref core.CellRef, value string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.ErrStore("set_cell", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := setCellPG(ctx, tx, s.sheet, ref, value); err != nil {
		return core.ErrStore("set_cell", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.ErrStore("set_cell", err)
	}
	return nil
}

func setCellPG(ctx context.Context, tx pgx.Tx, sheet string, ref core.CellRef, value string) error {
	if value == "" {
		_, err := tx.Exec(ctx, `DELETE FROM cells WHERE sheet=$1 AND row_idx=$2 AND col_idx=$3`,
			sheet, ref.Row, ref.Col)
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO cells (sheet, row_idx, col_idx, value, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (sheet, row_idx, col_idx) DO UPDATE SET
			value=EXCLUDED.value,
			updated_at=EXCLUDED.updated_at`,
		sheet, ref.Row, ref.Col, value)
	return err
}

// BatchUpdate implements core.TabularStore inside one transaction.
func (s *PostgresStore) BatchUpdate(ctx context.Context, reqs []core.UpdateRequest) error {
	if err := validateUpdates(reqs); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.ErrStore("batch_update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, req := range reqs {
		if err := applyPGUpdate(ctx, tx, s.sheet, req); err != nil {
			return core.ErrStore("batch_update", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return core.ErrStore("batch_update", err)
	}
	return nil
}

func applyPGUpdate(ctx context.Context, tx pgx.Tx, sheet string, req core.UpdateRequest) error {
	axis := "row_idx"
	if req.Kind == core.UpdateInsertColumn || req.Kind == core.UpdateDeleteColumn {
		axis = "col_idx"
	}

	switch req.Kind {
	case core.UpdateWriteCell:
		return setCellPG(ctx, tx, sheet, req.Cell, req.Value)
	case core.UpdateDeleteRows, core.UpdateDeleteColumn:
		if _, err := tx.Exec(ctx,
			fmt.Sprintf("DELETE FROM cells WHERE sheet=$1 AND %s >= $2 AND %s < $3", axis, axis),
			sheet, req.Index, req.Index+req.Count); err != nil {
			return err
		}
		return shiftPG(ctx, tx, sheet, axis, req.Index+req.Count, -req.Count)
	default:
		return shiftPG(ctx, tx, sheet, axis, req.Index, req.Count)
	}
}

func shiftPG(ctx context.Context, tx pgx.Tx, sheet, axis string, from, delta int) error {
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE cells SET %s = -(%s + $1) - 1 WHERE sheet=$2 AND %s >= $3", axis, axis, axis),
		delta, sheet, from); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE cells SET %s = -%s - 1 WHERE sheet=$1 AND %s < 0", axis, axis, axis),
		sheet)
	return err
}

// Dimensions implements core.TabularStore.
func (s *PostgresStore) Dimensions(ctx context.Context) (int, int, error) {
	var rows, cols int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(row_idx) + 1, 0), COALESCE(MAX(col_idx) + 1, 0) FROM cells WHERE sheet=$1`,
		s.sheet).Scan(&rows, &cols)
	if err != nil {
		return 0, 0, core.ErrStore("dimensions", err)
	}
	return rows, cols, nil
}
