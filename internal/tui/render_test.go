package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
)

func TestDetector(t *testing.T) {
	env := map[string]string{}
	tty := true
	newDetector := func() *Detector {
		d := NewDetector()
		d.getenv = func(k string) string { return env[k] }
		d.isTTY = func() bool { return tty }
		return d
	}

	assert.Equal(t, ModeStyled, newDetector().Detect())
	assert.Equal(t, ModePlain, newDetector().NoColor(true).Detect())
	assert.Equal(t, ModeJSON, newDetector().ForceMode(ModeJSON).Detect())

	tty = false
	assert.Equal(t, ModePlain, newDetector().Detect())

	tty = true
	env["CI"] = "true"
	assert.Equal(t, ModePlain, newDetector().Detect())

	env["QGRID_OUTPUT"] = "json"
	assert.Equal(t, ModeJSON, newDetector().Detect())
}

func TestOutputModeString(t *testing.T) {
	assert.Equal(t, "styled", ModeStyled.String())
	assert.Equal(t, "plain", ModePlain.String())
	assert.Equal(t, "json", ModeJSON.String())
	assert.Equal(t, "unknown", OutputMode(42).String())
}

func sampleResult() *grid.RunResult {
	return &grid.RunResult{
		RunID:       "run-1",
		Total:       7,
		Completed:   5,
		Failed:      2,
		Iterations:  3,
		TotalTime:   1500 * time.Millisecond,
		HaltedGroup: "grp-E",
		Groups: []grid.GroupResult{
			{ID: "grp-B", Type: core.GroupSingle, Completed: 5, Duration: time.Second},
			{ID: "grp-E", Type: core.GroupFanout, Failed: 2, RetryPasses: 10, Halted: true},
		},
	}
}

func TestRenderer_RunSummaryPlain(t *testing.T) {
	out := NewRenderer(ModePlain).RunSummary(sampleResult())

	assert.True(t, strings.HasPrefix(out, "Run run-1\n\n"))
	assert.Contains(t, out, "outcome     halted at grp-E\n")
	assert.Contains(t, out, "completed   5\n")
	assert.Contains(t, out, "failed      2\n")
	assert.Contains(t, out, "duration    1.5s\n")
	assert.NotContains(t, out, "\x1b[")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(last, "grp-E"))
	assert.True(t, strings.HasSuffix(last, "halted"))
	assert.Contains(t, last, "10")
}

func TestRenderer_Outcome(t *testing.T) {
	r := NewRenderer(ModePlain)
	assert.Equal(t, "success", r.outcome(&grid.RunResult{Success: true}))
	assert.Equal(t, "stopped", r.outcome(&grid.RunResult{Stopped: true}))
	assert.Equal(t, "iteration cap reached", r.outcome(&grid.RunResult{CapReached: true}))
	assert.Equal(t, "failed", r.outcome(&grid.RunResult{}))
	assert.Equal(t, "skipped grp-D", r.outcome(&grid.RunResult{SkippedGroups: []string{"grp-D"}}))
}

func TestRenderer_RunSummaryMarksSkippedGroup(t *testing.T) {
	res := &grid.RunResult{
		RunID:         "run-2",
		Completed:     1,
		Skipped:       1,
		SkippedGroups: []string{"grp-D"},
		Groups: []grid.GroupResult{
			{ID: "grp-B", Type: core.GroupSingle, Completed: 1},
			{ID: "grp-D", Type: core.GroupReport, Skipped: 1, SkipReason: "no side-effect producer configured"},
		},
	}
	out := NewRenderer(ModePlain).RunSummary(res)

	assert.Contains(t, out, "outcome     skipped grp-D\n")
	assert.Contains(t, out, "skipped     1\n")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "skipped: no side-effect producer configured"))
}

func TestRenderer_StyledKeepsText(t *testing.T) {
	out := NewRenderer(ModeStyled).RunSummary(sampleResult())
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "grp-B")
	assert.Contains(t, out, "halted at grp-E")
}

func TestRenderer_Layout(t *testing.T) {
	layout := &core.Layout{
		Control:  core.ControlRows{Menu: 0, AI: 1, Model: 2, Function: -1, Depends: -1},
		WorkRows: core.RowRange{Start: 3, End: 9},
		Groups: []*core.TaskGroup{
			{
				ID: "grp-B", SequenceOrder: 0, Type: core.GroupSingle,
				Columns: core.ColumnLayout{LogColumn: 1, PromptColumns: []int{2},
					AnswerColumns: []core.AnswerColumn{{Index: 3, WorkerKind: core.WorkerClaude}}},
			},
			{
				ID: "grp-F", SequenceOrder: 1, Type: core.GroupReport, Dependencies: []string{"grp-B"},
				Columns: core.ColumnLayout{LogColumn: -1,
					AnswerColumns: []core.AnswerColumn{{Index: 5}}},
			},
		},
	}

	out := NewRenderer(ModePlain).Layout(layout)
	assert.Contains(t, out, "2 groups")
	assert.Contains(t, out, "menu row    1\n")
	assert.Contains(t, out, "function row-\n")
	assert.Contains(t, out, "work rows   4-10\n")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{"0", "grp-B", "single", "C", "D:claude", "-"}, strings.Fields(lines[len(lines)-2]))
	assert.Equal(t, []string{"1", "grp-F", "report", "-", "F:", "grp-B"}, strings.Fields(lines[len(lines)-1]))
}

func TestRenderer_Status(t *testing.T) {
	r := NewRenderer(ModePlain)
	out := r.Status(grid.Status{Running: true, Phase: grid.PhaseDispatching, Identity: "host-1",
		CurrentGroup: "grp-B", ActiveSlots: 2, Processed: []string{"grp-A"}})
	assert.Contains(t, out, "state       running\n")
	assert.Contains(t, out, "phase       dispatching\n")
	assert.Contains(t, out, "group       grp-B\n")
	assert.Contains(t, out, "slots       2\n")
	assert.Contains(t, out, "processed   grp-A\n")

	assert.Contains(t, r.Status(grid.Status{Running: true, Paused: true}), "state       paused\n")
	assert.Contains(t, r.Status(grid.Status{}), "state       idle\n")
}

func TestGroupTypeStyle(t *testing.T) {
	assert.Equal(t, ColorFanout, GroupTypeStyle(core.GroupFanout).GetForeground())
	assert.Equal(t, ColorReport, GroupTypeStyle(core.GroupSideEffect).GetForeground())
	assert.Equal(t, ColorSingle, GroupTypeStyle(core.GroupSingle).GetForeground())
}

func TestRenderer_CrashDumpPlain(t *testing.T) {
	d := &diagnostics.CrashDump{
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PanicValue: "boom",
		GroupID:    "grp-B",
		Cell:       "C4",
		WorkerKind: core.WorkerClaude,
		Attempt:    2,
		StackTrace: "goroutine 1 [running]:\nmain.main()",
	}
	out := NewRenderer(ModePlain).CrashDump(d)

	assert.True(t, strings.HasPrefix(out, "Crash 2026-03-01T12:00:00Z\n\n"))
	assert.Contains(t, out, "panic       boom\n")
	assert.Contains(t, out, "run         -\n")
	assert.Contains(t, out, "cell        C4\n")
	assert.Contains(t, out, "worker      claude\n")
	assert.Contains(t, out, "attempt     2\n")
	assert.True(t, strings.HasSuffix(out, "main.main()\n"))
}
