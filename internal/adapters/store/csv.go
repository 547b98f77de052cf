package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// ImportCSV writes every non-empty CSV field into the store, starting at A1.
// Existing cells not covered by the CSV are left untouched.
func ImportCSV(ctx context.Context, s core.TabularStore, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("reading csv: %w", err)
	}
	return ImportRows(ctx, s, records)
}

// ImportRows writes a block of rows into the store starting at A1.
func ImportRows(ctx context.Context, s core.TabularStore, rows [][]string) (int, error) {
	reqs := make([]core.UpdateRequest, 0)
	for r, row := range rows {
		for c, v := range row {
			if v == "" {
				continue
			}
			reqs = append(reqs, core.WriteCell(core.Cell(r, c), v))
		}
	}
	if len(reqs) == 0 {
		return 0, nil
	}
	if err := s.BatchUpdate(ctx, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// ExportCSV writes the store's used extent as CSV.
func ExportCSV(ctx context.Context, s core.TabularStore, w io.Writer) error {
	rows, cols, err := s.Dimensions(ctx)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if rows > 0 && cols > 0 {
		grid, err := s.GetRange(ctx, core.RangeRef{StartRow: 0, StartCol: 0, EndRow: rows - 1, EndCol: cols - 1})
		if err != nil {
			return err
		}
		if err := writer.WriteAll(grid); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
