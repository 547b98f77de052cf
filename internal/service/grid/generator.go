package grid

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// DefaultBatchSize caps how many tasks one Scan returns.
const DefaultBatchSize = 3

// CellSet is a concurrency-safe set of cells.
type CellSet struct {
	mu    sync.Mutex
	cells map[core.CellRef]struct{}
}

// NewCellSet creates an empty set.
func NewCellSet() *CellSet {
	return &CellSet{cells: make(map[core.CellRef]struct{})}
}

// Add inserts ref and reports whether it was absent.
func (s *CellSet) Add(ref core.CellRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[ref]; ok {
		return false
	}
	s.cells[ref] = struct{}{}
	return true
}

// Has reports whether ref is in the set.
func (s *CellSet) Has(ref core.CellRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cells[ref]
	return ok
}

// Remove deletes ref.
func (s *CellSet) Remove(ref core.CellRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cells, ref)
}

// Len returns the number of cells.
func (s *CellSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}

// ScanOptions bounds a Scan call.
type ScanOptions struct {
	// Limit caps the number of returned tasks; DefaultBatchSize when zero.
	Limit int
	// Columns restricts the scan to these answer columns when non-empty.
	Columns []int
}

// Generator turns unanswered cells of a group into tasks. Every cell it
// emits is remembered for the lifetime of the generator and never emitted
// again.
type Generator struct {
	leases *service.LeaseManager
	seen   *CellSet
	now    func() time.Time
	logger *logging.Logger
}

// NewGenerator creates a task generator.
func NewGenerator(leases *service.LeaseManager, seen *CellSet, logger *logging.Logger) *Generator {
	if seen == nil {
		seen = NewCellSet()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{leases: leases, seen: seen, now: time.Now, logger: logger.WithComponent("generator")}
}

// Seen returns the set of cells already emitted.
func (g *Generator) Seen() *CellSet {
	return g.seen
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z]{1,3})\s*\}\}`)

// promptRow holds the prompt cells of one candidate row.
type promptRow struct {
	row     int
	prompts []string
	refs    []core.CellRef // cells referenced by {{X}} placeholders
}

// Scan returns up to opts.Limit tasks for unanswered cells of group within
// rows, lowest row first. Cells held by another identity's active lease,
// cells whose placeholders are not answered yet and cells already emitted
// are skipped.
func (g *Generator) Scan(ctx context.Context, store core.TabularStore, layout *core.Layout, group *core.TaskGroup, rows core.RowRange, opts ScanOptions) ([]core.Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	answers := selectAnswers(group, opts.Columns)
	if len(answers) == 0 {
		return nil, nil
	}
	cands, err := g.candidates(ctx, store, layout, group, rows)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}

	var refs []core.CellRef
	for _, c := range cands {
		for _, a := range answers {
			refs = append(refs, core.Cell(c.row, a.Index))
		}
		refs = append(refs, c.refs...)
	}
	values, err := store.BatchGet(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("reading answer cells of %s: %w", group.ID, err)
	}

	self := g.leases.Identity()
	var tasks []core.Task
	for _, c := range cands {
		for _, a := range answers {
			ref := core.Cell(c.row, a.Index)
			if g.seen.Has(ref) {
				continue
			}
			v := values[ref]
			if core.HasAnswer(v) || g.leases.IsClaimedByOther(v, self) {
				continue
			}
			task, ok := g.build(layout, group, c, a, values)
			if !ok {
				continue
			}
			if !g.seen.Add(ref) {
				continue
			}
			tasks = append(tasks, task)
			if len(tasks) >= limit {
				return tasks, nil
			}
		}
	}
	return tasks, nil
}

// Rebuild returns tasks for specific answer cells regardless of the seen set.
// It is used by reconciliation to requeue cells found empty after dispatch.
func (g *Generator) Rebuild(ctx context.Context, store core.TabularStore, layout *core.Layout, group *core.TaskGroup, cells []core.CellRef) (map[core.CellRef]core.Task, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	lo, hi := cells[0].Row, cells[0].Row
	for _, c := range cells {
		lo, hi = min(lo, c.Row), max(hi, c.Row)
	}
	cands, err := g.candidates(ctx, store, layout, group, core.RowRange{Start: lo, End: hi})
	if err != nil {
		return nil, err
	}
	byRow := make(map[int]promptRow, len(cands))
	var refs []core.CellRef
	for _, c := range cands {
		byRow[c.row] = c
		refs = append(refs, c.refs...)
	}
	values := map[core.CellRef]string{}
	if len(refs) > 0 {
		if values, err = store.BatchGet(ctx, refs); err != nil {
			return nil, fmt.Errorf("reading placeholder cells of %s: %w", group.ID, err)
		}
	}

	out := make(map[core.CellRef]core.Task, len(cells))
	for _, ref := range cells {
		c, ok := byRow[ref.Row]
		if !ok {
			continue
		}
		a, ok := group.Columns.Answer(ref.Col)
		if !ok {
			continue
		}
		if task, ok := g.build(layout, group, c, a, values); ok {
			out[ref] = task
		}
	}
	return out, nil
}

// candidates returns the rows in range with content in any prompt column.
func (g *Generator) candidates(ctx context.Context, store core.TabularStore, layout *core.Layout, group *core.TaskGroup, rows core.RowRange) ([]promptRow, error) {
	prompts := group.Columns.PromptColumns
	if len(prompts) == 0 {
		return nil, nil
	}
	start := max(rows.Start, layout.WorkRows.Start)
	end := min(rows.End, layout.WorkRows.End)
	if end < start {
		return nil, nil
	}
	lo, hi := prompts[0], prompts[0]
	for _, p := range prompts {
		lo, hi = min(lo, p), max(hi, p)
	}
	block, err := store.GetRange(ctx, core.RangeRef{StartRow: start, StartCol: lo, EndRow: end, EndCol: hi})
	if err != nil {
		return nil, fmt.Errorf("reading prompt cells of %s: %w", group.ID, err)
	}

	var out []promptRow
	for i, values := range block {
		row := start + i
		pr := promptRow{row: row}
		hasPrompt := false
		for _, p := range prompts {
			v := values[p-lo]
			if strings.TrimSpace(v) != "" {
				hasPrompt = true
			}
			pr.prompts = append(pr.prompts, v)
			for _, m := range placeholder.FindAllStringSubmatch(v, -1) {
				col, err := core.ColumnIndex(m[1])
				if err != nil {
					continue
				}
				pr.refs = append(pr.refs, core.Cell(row, col))
			}
		}
		if hasPrompt {
			out = append(out, pr)
		}
	}
	return out, nil
}

// build assembles the task for one cell. It reports false when a
// placeholder references a cell without a usable answer.
func (g *Generator) build(layout *core.Layout, group *core.TaskGroup, c promptRow, a core.AnswerColumn, values map[core.CellRef]string) (core.Task, bool) {
	var parts []string
	for _, p := range c.prompts {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	text := strings.Join(parts, "\n\n")

	kind := core.TaskKindPrimary
	ready := true
	if len(c.refs) > 0 {
		kind = core.TaskKindDependent
		text = placeholder.ReplaceAllStringFunc(text, func(m string) string {
			sub := placeholder.FindStringSubmatch(m)
			col, err := core.ColumnIndex(sub[1])
			if err != nil {
				return m
			}
			v := values[core.Cell(c.row, col)]
			if !core.HasAnswer(v) {
				ready = false
				return m
			}
			return strings.TrimSpace(v)
		})
	}
	if !ready {
		g.logger.Debug("row waits on referenced cells", "group", group.ID, "row", c.row+1)
		return core.Task{}, false
	}

	first := group.Columns.PromptColumns[0]
	model := layout.ModelHints[a.Index]
	if model == "" {
		model = layout.ModelHints[first]
	}
	feature := layout.FunctionHints[a.Index]
	if isDefaultFunction(feature) {
		if shared := layout.FunctionHints[first]; !isDefaultFunction(shared) {
			feature = shared
		}
	}

	return core.Task{
		ID:          core.NewTaskID(),
		GroupID:     group.ID,
		Row:         c.row,
		Column:      a.Letter(),
		ColumnIndex: a.Index,
		WorkerKind:  a.WorkerKind,
		ModelHint:   strings.TrimSpace(model),
		FeatureHint: strings.TrimSpace(feature),
		PromptText:  text,
		CreatedAt:   g.now(),
		Kind:        kind,
	}, true
}

func selectAnswers(group *core.TaskGroup, cols []int) []core.AnswerColumn {
	if len(cols) == 0 {
		return group.Columns.AnswerColumns
	}
	var out []core.AnswerColumn
	for _, c := range cols {
		if a, ok := group.Columns.Answer(c); ok {
			out = append(out, a)
		}
	}
	return out
}
