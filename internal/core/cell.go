package core

import (
	"fmt"
	"strconv"
	"strings"
)

// CellRef addresses a single cell. Row and Col are zero-based.
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Cell returns a CellRef for the given zero-based coordinates.
func Cell(row, col int) CellRef {
	return CellRef{Row: row, Col: col}
}

// String renders the reference in A1 notation.
func (c CellRef) String() string {
	return ColumnLetter(c.Col) + strconv.Itoa(c.Row+1)
}

// RangeRef addresses a rectangular block of cells, bounds inclusive.
type RangeRef struct {
	StartRow int `json:"start_row"`
	StartCol int `json:"start_col"`
	EndRow   int `json:"end_row"`
	EndCol   int `json:"end_col"`
}

// Rows returns the number of rows covered by the range.
func (r RangeRef) Rows() int {
	if r.EndRow < r.StartRow {
		return 0
	}
	return r.EndRow - r.StartRow + 1
}

// Cols returns the number of columns covered by the range.
func (r RangeRef) Cols() int {
	if r.EndCol < r.StartCol {
		return 0
	}
	return r.EndCol - r.StartCol + 1
}

// String renders the range in A1 notation.
func (r RangeRef) String() string {
	return Cell(r.StartRow, r.StartCol).String() + ":" + Cell(r.EndRow, r.EndCol).String()
}

// ColumnRange builds a range covering whole rows [startRow, endRow] of a single column.
func ColumnRange(col, startRow, endRow int) RangeRef {
	return RangeRef{StartRow: startRow, StartCol: col, EndRow: endRow, EndCol: col}
}

// RowRange is an inclusive, zero-based span of work rows.
type RowRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range contains no rows.
func (r RowRange) Empty() bool {
	return r.End < r.Start
}

// Contains reports whether row lies within the range.
func (r RowRange) Contains(row int) bool {
	return row >= r.Start && row <= r.End
}

// ColumnLetter converts a zero-based column index to its letter form (0 -> A, 26 -> AA).
func ColumnLetter(col int) string {
	if col < 0 {
		return "?"
	}
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// ColumnIndex converts a column letter (A, AA, ...) to its zero-based index.
func ColumnIndex(letter string) (int, error) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0, ErrValidation(CodeInvalidCell, "empty column letter")
	}
	n := 0
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0, ErrValidation(CodeInvalidCell, fmt.Sprintf("invalid column letter %q", letter))
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, nil
}

// ParseA1 parses a reference such as "D5" into a zero-based CellRef.
func ParseA1(ref string) (CellRef, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return CellRef{}, ErrValidation(CodeInvalidCell, fmt.Sprintf("invalid A1 reference %q", ref))
	}
	col, err := ColumnIndex(ref[:i])
	if err != nil {
		return CellRef{}, err
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil || row < 1 {
		return CellRef{}, ErrValidation(CodeInvalidCell, fmt.Sprintf("invalid A1 row in %q", ref))
	}
	return Cell(row-1, col), nil
}

// UpdateKind enumerates structural and value updates accepted by BatchUpdate.
type UpdateKind string

const (
	UpdateWriteCell    UpdateKind = "write_cell"
	UpdateInsertRows   UpdateKind = "insert_rows"
	UpdateDeleteRows   UpdateKind = "delete_rows"
	UpdateInsertColumn UpdateKind = "insert_columns"
	UpdateDeleteColumn UpdateKind = "delete_columns"
)

// UpdateRequest is one entry of a BatchUpdate call.
// For row/column inserts and deletes, Index is the first affected row/column
// and Count the number of rows/columns; for cell writes Cell and Value apply.
type UpdateRequest struct {
	Kind  UpdateKind `json:"kind"`
	Cell  CellRef    `json:"cell,omitempty"`
	Value string     `json:"value,omitempty"`
	Index int        `json:"index,omitempty"`
	Count int        `json:"count,omitempty"`
}

// WriteCell builds a cell write request.
func WriteCell(ref CellRef, value string) UpdateRequest {
	return UpdateRequest{Kind: UpdateWriteCell, Cell: ref, Value: value}
}
