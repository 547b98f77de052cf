package store

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

func newGrid(ref core.RangeRef) [][]string {
	out := make([][]string, ref.Rows())
	for r := range out {
		out[r] = make([]string, ref.Cols())
	}
	return out
}

func validateUpdates(reqs []core.UpdateRequest) error {
	for i, req := range reqs {
		switch req.Kind {
		case core.UpdateWriteCell:
			if req.Cell.Row < 0 || req.Cell.Col < 0 {
				return core.ErrValidation(core.CodeInvalidCell, fmt.Sprintf("update %d: negative cell reference", i))
			}
		case core.UpdateInsertRows, core.UpdateDeleteRows, core.UpdateInsertColumn, core.UpdateDeleteColumn:
			if req.Index < 0 || req.Count < 1 {
				return core.ErrValidation(core.CodeInvalidCell, fmt.Sprintf("update %d: index must be >= 0 and count >= 1", i))
			}
		default:
			return core.ErrValidation(core.CodeInvalidCell, fmt.Sprintf("update %d: unknown kind %q", i, req.Kind))
		}
	}
	return nil
}

// shiftRef moves a cell for a structural update. keep is false when the
// cell falls inside a deleted span.
func shiftRef(ref core.CellRef, req core.UpdateRequest) (core.CellRef, bool) {
	switch req.Kind {
	case core.UpdateInsertRows:
		if ref.Row >= req.Index {
			ref.Row += req.Count
		}
	case core.UpdateDeleteRows:
		if ref.Row >= req.Index && ref.Row < req.Index+req.Count {
			return ref, false
		}
		if ref.Row >= req.Index+req.Count {
			ref.Row -= req.Count
		}
	case core.UpdateInsertColumn:
		if ref.Col >= req.Index {
			ref.Col += req.Count
		}
	case core.UpdateDeleteColumn:
		if ref.Col >= req.Index && ref.Col < req.Index+req.Count {
			return ref, false
		}
		if ref.Col >= req.Index+req.Count {
			ref.Col -= req.Count
		}
	}
	return ref, true
}
