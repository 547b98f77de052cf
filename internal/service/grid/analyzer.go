package grid

import (
	"context"
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// DefaultControlScanRows is how many leading rows are searched for control labels.
const DefaultControlScanRows = 10

// Analyzer derives task groups from the control rows of a sheet.
type Analyzer struct {
	scanRows int
	logger   *logging.Logger
}

// NewAnalyzer creates a structure analyzer.
func NewAnalyzer(scanRows int, logger *logging.Logger) *Analyzer {
	if scanRows < 2 {
		scanRows = DefaultControlScanRows
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{scanRows: scanRows, logger: logger.WithComponent("analyzer")}
}

// Analyze reads the control rows and column headers and returns the layout.
// Groups also depend on the owners of answer columns their prompts reference
// through {{X}} placeholders. Missing menu or AI rows and dependency cycles
// are structural errors.
func (a *Analyzer) Analyze(ctx context.Context, store core.TabularStore) (*core.Layout, error) {
	rows, cols, err := store.Dimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading dimensions: %w", err)
	}
	if rows == 0 || cols == 0 {
		return nil, core.ErrStructural(core.CodeEmptySheet, "sheet has no data")
	}

	scan := min(a.scanRows, rows)
	labels, err := store.GetRange(ctx, core.ColumnRange(0, 0, scan-1))
	if err != nil {
		return nil, fmt.Errorf("reading control labels: %w", err)
	}
	control := core.ControlRows{Menu: -1, AI: -1, Model: -1, Function: -1, Depends: -1}
	for r, row := range labels {
		slot := controlSlot(&control, classifyControlLabel(row[0]))
		if slot != nil && *slot < 0 {
			*slot = r
		}
	}
	if control.Menu < 0 {
		return nil, core.ErrStructural(core.CodeMissingMenuRow, "no menu row in the first rows of column A")
	}
	if control.AI < 0 {
		return nil, core.ErrStructural(core.CodeMissingAIRow, "no AI row in the first rows of column A")
	}

	last := control.Last()
	block, err := store.GetRange(ctx, core.RangeRef{StartRow: 0, StartCol: 0, EndRow: last, EndCol: cols - 1})
	if err != nil {
		return nil, fmt.Errorf("reading control rows: %w", err)
	}
	at := func(row, col int) string {
		if row < 0 {
			return ""
		}
		return block[row][col]
	}

	layout := &core.Layout{
		Control:       control,
		WorkRows:      core.RowRange{Start: last + 1, End: rows - 1},
		ModelHints:    make(map[int]string),
		FunctionHints: make(map[int]string),
	}
	for c := 0; c < cols; c++ {
		if v := at(control.Model, c); v != "" {
			layout.ModelHints[c] = v
		}
		if v := at(control.Function, c); v != "" {
			layout.FunctionHints[c] = v
		}
	}

	b := &layoutBuilder{ai: func(col int) string { return at(control.AI, col) }, logger: a.logger}
	for c := 1; c < cols; c++ {
		b.visit(c, at(control.Menu, c))
	}
	b.close()

	groups := b.groups
	for i, g := range groups {
		g.SequenceOrder = i
	}
	layout.Groups = groups

	for _, g := range groups {
		deps := make(map[string]bool)
		if g.Type.Special() {
			if owner, ok := layout.GroupForColumn(sourceColumn(g)); ok && owner.ID != g.ID {
				deps[owner.ID] = true
			}
		}
		refs, invalid := parseColumnList(at(control.Depends, g.Columns.Anchor()))
		for _, bad := range invalid {
			a.logger.Warn("ignoring invalid dependency reference", "group", g.ID, "value", bad)
		}
		for _, col := range refs {
			owner, ok := layout.GroupForColumn(col)
			if !ok {
				a.logger.Warn("dependency names a column outside any group",
					"group", g.ID, "column", core.ColumnLetter(col))
				continue
			}
			if owner.ID != g.ID {
				deps[owner.ID] = true
			}
		}
		refCols, err := promptReferences(ctx, store, layout.WorkRows, g)
		if err != nil {
			return nil, err
		}
		for _, col := range refCols {
			owner, ok := layout.GroupForColumn(col)
			if ok && owner.ID != g.ID && ownsAnswer(owner, col) {
				deps[owner.ID] = true
			}
		}
		for id := range deps {
			g.Dependencies = append(g.Dependencies, id)
		}
		sort.Strings(g.Dependencies)
	}

	graph, dropped, err := service.BuildGroupGraph(groups)
	if err != nil {
		return nil, err
	}
	for _, d := range dropped {
		a.logger.Warn("dropped dependency edge", "edge", d)
	}
	if _, err := graph.Build(); err != nil {
		return nil, err
	}

	a.logger.Debug("structure analyzed",
		"groups", len(groups), "work_rows", fmt.Sprintf("%d-%d", layout.WorkRows.Start+1, layout.WorkRows.End+1))
	return layout, nil
}

// promptReferences returns the distinct columns named by {{X}} placeholders
// in the group's prompt cells across the work rows.
func promptReferences(ctx context.Context, store core.TabularStore, rows core.RowRange, g *core.TaskGroup) ([]int, error) {
	prompts := g.Columns.PromptColumns
	if len(prompts) == 0 || rows.Empty() {
		return nil, nil
	}
	lo, hi := prompts[0], prompts[0]
	for _, p := range prompts {
		lo, hi = min(lo, p), max(hi, p)
	}
	block, err := store.GetRange(ctx, core.RangeRef{StartRow: rows.Start, StartCol: lo, EndRow: rows.End, EndCol: hi})
	if err != nil {
		return nil, fmt.Errorf("reading prompt cells of %s: %w", g.ID, err)
	}
	seen := make(map[int]bool)
	var out []int
	for _, values := range block {
		for _, p := range prompts {
			if p-lo >= len(values) {
				continue
			}
			for _, m := range placeholder.FindAllStringSubmatch(values[p-lo], -1) {
				col, err := core.ColumnIndex(m[1])
				if err != nil || seen[col] {
					continue
				}
				seen[col] = true
				out = append(out, col)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func ownsAnswer(g *core.TaskGroup, col int) bool {
	for _, a := range g.Columns.AnswerColumns {
		if a.Index == col {
			return true
		}
	}
	return false
}

func controlSlot(c *core.ControlRows, r controlRow) *int {
	switch r {
	case rowMenu:
		return &c.Menu
	case rowAI:
		return &c.AI
	case rowModel:
		return &c.Model
	case rowFunction:
		return &c.Function
	case rowDepends:
		return &c.Depends
	}
	return nil
}

// sourceColumn is the answer column a report or side-effect group reads.
func sourceColumn(g *core.TaskGroup) int {
	if len(g.Columns.AnswerColumns) == 0 {
		return -1
	}
	return g.Columns.AnswerColumns[0].Index - 1
}

// openGroup accumulates columns while the menu row is scanned left to right.
type openGroup struct {
	label   string
	log     int
	prompts []int
	answers []core.AnswerColumn
}

type layoutBuilder struct {
	ai     func(col int) string
	open   *openGroup
	groups []*core.TaskGroup
	logger *logging.Logger
}

func (b *layoutBuilder) visit(col int, text string) {
	h := classifyHeader(text)
	switch h.kind {
	case headerLog:
		b.close()
		b.open = &openGroup{label: text, log: col}
	case headerPrompt:
		if b.open == nil || len(b.open.answers) > 0 {
			b.close()
			b.open = &openGroup{label: text, log: -1}
		}
		b.open.prompts = append(b.open.prompts, col)
	case headerAnswer:
		if b.open == nil {
			b.logger.Warn("answer column outside any group", "column", core.ColumnLetter(col))
			return
		}
		b.open.answers = append(b.open.answers, core.AnswerColumn{
			Index:      col,
			Label:      text,
			WorkerKind: b.answerKind(col, h.workerKind),
		})
	case headerReport, headerSideEffect:
		b.close()
		typ := core.GroupReport
		if h.kind == headerSideEffect {
			typ = core.GroupSideEffect
		}
		if col == 0 {
			return
		}
		b.groups = append(b.groups, &core.TaskGroup{
			ID:    core.GroupKey(col),
			Type:  typ,
			Label: text,
			Columns: core.ColumnLayout{
				LogColumn:     -1,
				AnswerColumns: []core.AnswerColumn{{Index: col, Label: text}},
			},
		})
	default:
		b.close()
	}
}

// answerKind resolves an answer column's worker. Header text wins over the AI row.
func (b *layoutBuilder) answerKind(col int, fromHeader core.WorkerKind) core.WorkerKind {
	if fromHeader != "" {
		return fromHeader
	}
	if k, ok := ResolveWorkerKind(b.ai(col)); ok {
		return k
	}
	if len(b.open.prompts) > 0 {
		if k, ok := ResolveWorkerKind(b.ai(b.open.prompts[0])); ok {
			return k
		}
	}
	return core.WorkerChatGPT
}

func (b *layoutBuilder) close() {
	og := b.open
	b.open = nil
	if og == nil {
		return
	}
	cl := core.ColumnLayout{LogColumn: og.log, PromptColumns: og.prompts, AnswerColumns: og.answers}
	id := core.GroupKey(cl.Anchor())
	if len(og.prompts) == 0 {
		b.logger.Warn("dropping group without prompt columns", "group", id)
		return
	}
	if len(og.answers) == 0 {
		b.logger.Warn("dropping group without answer columns", "group", id)
		return
	}

	g := &core.TaskGroup{
		ID:         id,
		Type:       core.GroupSingle,
		Columns:    cl,
		WorkerKind: og.answers[0].WorkerKind,
		Label:      og.label,
	}
	if n, ok := parseFanout(b.ai(cl.Anchor())); ok {
		if !distinctKinds(og.answers, n) {
			b.logger.Warn("dropping fan-out group with mismatched answer columns",
				"group", id, "kinds", n, "answers", len(og.answers))
			return
		}
		g.Type = core.GroupFanout
	}
	b.groups = append(b.groups, g)
}

func distinctKinds(answers []core.AnswerColumn, n int) bool {
	if len(answers) != n {
		return false
	}
	seen := make(map[core.WorkerKind]bool, n)
	for _, a := range answers {
		if seen[a.WorkerKind] {
			return false
		}
		seen[a.WorkerKind] = true
	}
	return true
}
