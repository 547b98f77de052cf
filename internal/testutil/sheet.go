package testutil

import "strings"

// Sheet builds tabular fixtures row by row. Column A carries the control
// labels; work rows follow the control rows.
type Sheet struct {
	rows [][]string
}

// NewSheet starts a sheet with menu and AI rows.
func NewSheet(menu, ai []string) *Sheet {
	return &Sheet{rows: [][]string{
		append([]string{"menu"}, menu...),
		append([]string{"ai"}, ai...),
	}}
}

// Control appends another labelled control row (model, function, depends).
func (s *Sheet) Control(label string, values ...string) *Sheet {
	s.rows = append(s.rows, append([]string{label}, values...))
	return s
}

// Row appends a work row; the label column is left blank.
func (s *Sheet) Row(values ...string) *Sheet {
	s.rows = append(s.rows, append([]string{""}, values...))
	return s
}

// Rows returns the built rows.
func (s *Sheet) Rows() [][]string {
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// LongAnswer returns a realistic answer of roughly n characters.
func LongAnswer(n int) string {
	const unit = "a real answer "
	return strings.Repeat(unit, n/len(unit)+1)[:n]
}
