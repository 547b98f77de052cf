package grid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/testutil"
)

var genNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type genFixture struct {
	store  *store.MemoryStore
	layout *core.Layout
	gen    *Generator
}

func newGenFixture(t *testing.T, rows [][]string) *genFixture {
	t.Helper()
	s := store.NewMemoryStoreFromRows(rows)
	layout, err := NewAnalyzer(10, nil).Analyze(context.Background(), s)
	require.NoError(t, err)
	leases := service.NewLeaseManager(s, service.LeaseConfig{
		Identity: "self",
		Now:      func() time.Time { return genNow },
	})
	gen := NewGenerator(leases, nil, nil)
	gen.now = func() time.Time { return genNow }
	return &genFixture{store: s, layout: layout, gen: gen}
}

func (f *genFixture) scan(t *testing.T, groupID string, opts ScanOptions) []core.Task {
	t.Helper()
	g, ok := f.layout.Group(groupID)
	require.True(t, ok, "group %s", groupID)
	tasks, err := f.gen.Scan(context.Background(), f.store, f.layout, g, f.layout.WorkRows, opts)
	require.NoError(t, err)
	return tasks
}

func taskRows(tasks []core.Task) []int {
	rows := make([]int, len(tasks))
	for i, t := range tasks {
		rows[i] = t.Row
	}
	return rows
}

func TestGenerator_EmitsOnlyUnansweredCellsOnce(t *testing.T) {
	sheet := testutil.NewSheet([]string{"prompt", "answer"}, []string{"claude", ""}).
		Row("q1", "done").
		Row("q2", "").
		Row("q3", "").
		Row("q4", "also done").
		Row("q5", "")
	f := newGenFixture(t, sheet.Rows())

	tasks := f.scan(t, "grp-B", ScanOptions{})
	require.Len(t, tasks, 3)
	assert.Equal(t, []int{3, 4, 6}, taskRows(tasks))
	for _, task := range tasks {
		assert.Equal(t, "C", task.Column)
		assert.Equal(t, core.WorkerClaude, task.WorkerKind)
		assert.Equal(t, core.TaskKindPrimary, task.Kind)
		assert.Equal(t, genNow, task.CreatedAt)
	}
	assert.Equal(t, "q2", tasks[0].PromptText)

	assert.Empty(t, f.scan(t, "grp-B", ScanOptions{}), "cells are never emitted twice")
	assert.Equal(t, 3, f.gen.Seen().Len())
}

func TestGenerator_RespectsLimit(t *testing.T) {
	sheet := testutil.NewSheet([]string{"prompt", "answer"}, []string{"claude", ""})
	for range 5 {
		sheet.Row("q")
	}
	f := newGenFixture(t, sheet.Rows())

	first := f.scan(t, "grp-B", ScanOptions{Limit: 2})
	assert.Equal(t, []int{2, 3}, taskRows(first))
	second := f.scan(t, "grp-B", ScanOptions{Limit: 2})
	assert.Equal(t, []int{4, 5}, taskRows(second))
	third := f.scan(t, "grp-B", ScanOptions{Limit: 2})
	assert.Equal(t, []int{6}, taskRows(third))
}

func TestGenerator_Leases(t *testing.T) {
	active := core.LeaseMarker{Timestamp: genNow.Add(-time.Minute), WorkerID: "other"}.Encode()
	stale := core.LeaseMarker{Timestamp: genNow.Add(-time.Hour), WorkerID: "other"}.Encode()
	own := core.LeaseMarker{Timestamp: genNow.Add(-time.Minute), WorkerID: "self"}.Encode()

	sheet := testutil.NewSheet([]string{"prompt", "answer"}, []string{"gemini", ""}).
		Row("q1", active).
		Row("q2", stale).
		Row("q3", own).
		Row("q4", "processing")
	f := newGenFixture(t, sheet.Rows())

	tasks := f.scan(t, "grp-B", ScanOptions{Limit: 10})
	assert.Equal(t, []int{3, 4, 5}, taskRows(tasks), "active foreign lease is skipped")
}

func TestGenerator_PromptAndHints(t *testing.T) {
	sheet := testutil.NewSheet(
		[]string{"prompt", "prompt2", "answer", "answer"},
		[]string{"chatgpt", "", "", "gemini"},
	).
		Control("model", "o3", "", "", "gemini-pro").
		Control("function", "deep research", "", "default", "").
		Row("  first part ", "", "", "").
		Row("", "second only", "", "").
		Row("a", "b", "", "")
	f := newGenFixture(t, sheet.Rows())

	tasks := f.scan(t, "grp-B", ScanOptions{Limit: 10})
	require.Len(t, tasks, 6)

	byCell := map[string]core.Task{}
	for _, task := range tasks {
		byCell[task.Key()] = task
	}
	d5 := byCell["D5"]
	assert.Equal(t, "first part", d5.PromptText)
	assert.Equal(t, "o3", d5.ModelHint, "falls back to the first prompt column")
	assert.Equal(t, "deep research", d5.FeatureHint)

	e5 := byCell["E5"]
	assert.Equal(t, core.WorkerGemini, e5.WorkerKind)
	assert.Equal(t, "gemini-pro", e5.ModelHint)
	assert.Equal(t, "deep research", e5.FeatureHint)

	assert.Equal(t, "second only", byCell["D6"].PromptText)
	assert.Equal(t, "a\n\nb", byCell["D7"].PromptText)
}

func TestGenerator_ColumnFilter(t *testing.T) {
	sheet := testutil.NewSheet(
		[]string{"prompt", "answer", "answer"},
		[]string{"2 kinds", "claude", "gemini"},
	).Row("q1").Row("q2")
	f := newGenFixture(t, sheet.Rows())

	tasks := f.scan(t, "grp-B", ScanOptions{Columns: []int{3}})
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, "D", task.Column)
		assert.Equal(t, core.WorkerGemini, task.WorkerKind)
	}
}

func TestGenerator_Placeholders(t *testing.T) {
	sheet := testutil.NewSheet(
		[]string{"prompt", "answer", "prompt", "answer"},
		[]string{"chatgpt", "", "claude", ""},
	).
		Row("q1", "forty two", "summarize {{C}}", "").
		Row("q2", "", "summarize {{ c }}", "")
	f := newGenFixture(t, sheet.Rows())

	tasks := f.scan(t, "grp-D", ScanOptions{Limit: 10})
	require.Len(t, tasks, 1, "row waiting on C is not ready")
	assert.Equal(t, "summarize forty two", tasks[0].PromptText)
	assert.Equal(t, core.TaskKindDependent, tasks[0].Kind)
	assert.Equal(t, 2, tasks[0].Row)

	require.NoError(t, f.store.SetCell(context.Background(), core.Cell(3, 2), "seven"))
	tasks = f.scan(t, "grp-D", ScanOptions{Limit: 10})
	require.Len(t, tasks, 1)
	assert.Equal(t, "summarize seven", tasks[0].PromptText)
}

func TestGenerator_Rebuild(t *testing.T) {
	sheet := testutil.NewSheet([]string{"prompt", "answer"}, []string{"claude", ""}).
		Row("q1").
		Row("q2")
	f := newGenFixture(t, sheet.Rows())
	g, _ := f.layout.Group("grp-B")

	require.Len(t, f.scan(t, "grp-B", ScanOptions{}), 2)

	cells := []core.CellRef{core.Cell(3, 2), core.Cell(9, 2)}
	tasks, err := f.gen.Rebuild(context.Background(), f.store, f.layout, g, cells)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "rows outside the work range are dropped")
	assert.Equal(t, "q2", tasks[core.Cell(3, 2)].PromptText)
}

func TestCellSet(t *testing.T) {
	s := NewCellSet()
	assert.True(t, s.Add(core.Cell(1, 1)))
	assert.False(t, s.Add(core.Cell(1, 1)))
	assert.True(t, s.Has(core.Cell(1, 1)))
	assert.Equal(t, 1, s.Len())
	s.Remove(core.Cell(1, 1))
	assert.False(t, s.Has(core.Cell(1, 1)))
}
