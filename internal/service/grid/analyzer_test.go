package grid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

func analyze(t *testing.T, rows [][]string) (*core.Layout, error) {
	t.Helper()
	return NewAnalyzer(10, nil).Analyze(context.Background(), store.NewMemoryStoreFromRows(rows))
}

func TestAnalyzer_Groups(t *testing.T) {
	rows := [][]string{
		{"menu", "log", "prompt", "claude answer", "prompt", "answer", "answer", "answer", "report"},
		{"ai", "", "gemini", "", "3 kinds", "chatgpt", "claude", "gemini", ""},
		{"model", "", "", "opus", "", "", "", "", ""},
		{"depends", "", "", "", "D", "", "", "", ""},
		{"", "", "q1"},
		{"", "", "q2"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)

	assert.Equal(t, core.ControlRows{Menu: 0, AI: 1, Model: 2, Function: -1, Depends: 3}, layout.Control)
	assert.Equal(t, core.RowRange{Start: 4, End: 5}, layout.WorkRows)
	assert.Equal(t, "opus", layout.ModelHints[3])
	require.Len(t, layout.Groups, 3)

	b := layout.Groups[0]
	assert.Equal(t, "grp-B", b.ID)
	assert.Equal(t, core.GroupSingle, b.Type)
	assert.Equal(t, 1, b.Columns.LogColumn)
	assert.Equal(t, []int{2}, b.Columns.PromptColumns)
	require.Len(t, b.Columns.AnswerColumns, 1)
	assert.Equal(t, core.WorkerClaude, b.Columns.AnswerColumns[0].WorkerKind, "header wins over the AI row")
	assert.Empty(t, b.Dependencies)

	e := layout.Groups[1]
	assert.Equal(t, "grp-E", e.ID)
	assert.Equal(t, core.GroupFanout, e.Type)
	assert.Equal(t, -1, e.Columns.LogColumn)
	var kinds []core.WorkerKind
	for _, a := range e.Columns.AnswerColumns {
		kinds = append(kinds, a.WorkerKind)
	}
	assert.Equal(t, []core.WorkerKind{core.WorkerChatGPT, core.WorkerClaude, core.WorkerGemini}, kinds)
	assert.Equal(t, []string{"grp-B"}, e.Dependencies)

	i := layout.Groups[2]
	assert.Equal(t, "grp-I", i.ID)
	assert.Equal(t, core.GroupReport, i.Type)
	assert.Equal(t, 7, sourceColumn(i))
	assert.Equal(t, []string{"grp-E"}, i.Dependencies)

	for n, g := range layout.Groups {
		assert.Equal(t, n, g.SequenceOrder)
	}
}

func TestAnalyzer_AnswerKindFallsBackToPromptColumn(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "answer", "prompt", "answer"},
		{"ai", "claude", "", "", ""},
		{"", "q"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	require.Len(t, layout.Groups, 2)
	assert.Equal(t, core.WorkerClaude, layout.Groups[0].WorkerKind)
	assert.Equal(t, core.WorkerChatGPT, layout.Groups[1].WorkerKind, "default kind")
}

func TestAnalyzer_MultiplePromptColumns(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "prompt2", "answer", "answer"},
		{"ai", "chatgpt", "", "", "gemini"},
		{"", "q"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	require.Len(t, layout.Groups, 1)
	g := layout.Groups[0]
	assert.Equal(t, []int{1, 2}, g.Columns.PromptColumns)
	require.Len(t, g.Columns.AnswerColumns, 2)
	assert.Equal(t, core.WorkerChatGPT, g.Columns.AnswerColumns[0].WorkerKind)
	assert.Equal(t, core.WorkerGemini, g.Columns.AnswerColumns[1].WorkerKind)
}

func TestAnalyzer_DropsIncompleteGroups(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "notes", "prompt", "answer", "answer", "log", "prompt", "answer"},
		{"ai", "", "", "3 kinds", "chatgpt", "claude", "", "", ""},
		{"", "q"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	require.Len(t, layout.Groups, 1, "prompt without answer and mismatched fan-out are dropped")
	assert.Equal(t, "grp-G", layout.Groups[0].ID)
	assert.Equal(t, 0, layout.Groups[0].SequenceOrder)
}

func TestAnalyzer_FanoutRequiresDistinctKinds(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "answer", "answer"},
		{"ai", "2 kinds", "claude", "claude"},
		{"", "q"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	assert.Empty(t, layout.Groups)
}

func TestAnalyzer_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		code string
	}{
		{
			name: "empty sheet",
			rows: nil,
			code: core.CodeEmptySheet,
		},
		{
			name: "missing menu row",
			rows: [][]string{{"ai", "claude"}, {"", "q"}},
			code: core.CodeMissingMenuRow,
		},
		{
			name: "missing ai row",
			rows: [][]string{{"menu", "prompt", "answer"}, {"", "q"}},
			code: core.CodeMissingAIRow,
		},
		{
			name: "dependency cycle",
			rows: [][]string{
				{"menu", "prompt", "answer", "prompt", "answer"},
				{"ai", "claude", "", "gemini", ""},
				{"depends", "D", "", "B", ""},
				{"", "q", "", "q"},
			},
			code: core.CodeDependencyCycle,
		},
		{
			name: "placeholder cycle",
			rows: [][]string{
				{"menu", "prompt", "answer", "prompt", "answer"},
				{"ai", "claude", "", "gemini", ""},
				{"", "see {{E}}", "", "see {{C}}"},
			},
			code: core.CodeDependencyCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analyze(t, tt.rows)
			require.Error(t, err)
			assert.True(t, core.IsStructural(err))
			var de *core.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestAnalyzer_PlaceholderAddsDependency(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "answer", "prompt", "answer"},
		{"ai", "chatgpt", "", "claude", ""},
		{"", "use {{E}}", "", "q1", ""},
		{"", "and {{ d }} {{B}}", "", "q2", ""},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	require.Len(t, layout.Groups, 2)
	assert.Equal(t, []string{"grp-D"}, layout.Groups[0].Dependencies, "answer column E belongs to grp-D")
	assert.Empty(t, layout.Groups[1].Dependencies)
}

func TestAnalyzer_UnknownDependencyIgnored(t *testing.T) {
	rows := [][]string{
		{"menu", "prompt", "answer"},
		{"ai", "claude", ""},
		{"depends", "Z, ??", ""},
		{"", "q"},
	}
	layout, err := analyze(t, rows)
	require.NoError(t, err)
	require.Len(t, layout.Groups, 1)
	assert.Empty(t, layout.Groups[0].Dependencies)
}

func TestAnalyzer_ControlLabelsBeyondScanWindow(t *testing.T) {
	rows := [][]string{
		{"title"},
		{"notes"},
		{"menu", "prompt", "answer"},
		{"ai", "claude"},
		{"", "q"},
	}
	layout, err := NewAnalyzer(2, nil).Analyze(context.Background(), store.NewMemoryStoreFromRows(rows))
	require.Error(t, err, "menu row sits outside a two-row scan")
	assert.Nil(t, layout)

	layout, err = analyze(t, rows)
	require.NoError(t, err)
	assert.Equal(t, 4, layout.WorkRows.Start)
}
