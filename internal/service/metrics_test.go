package service

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

func TestMetricsCollector_Outcomes(t *testing.T) {
	m := NewMetricsCollector()
	m.StartRun()
	m.StartGroup("grp-B")

	task := core.Task{GroupID: "grp-B", Row: 4, ColumnIndex: 3}
	m.RecordOutcome(core.TaskOutcome{Task: task, Status: core.TaskStatusCompleted})
	m.RecordOutcome(core.TaskOutcome{Task: task, Status: core.TaskStatusResponseFailed})
	m.RecordRetryPass("grp-B")
	m.EndGroup("grp-B", false)
	m.EndRun()

	run := m.GetRunMetrics()
	assert.Equal(t, 2, run.TasksTotal)
	assert.Equal(t, 1, run.TasksCompleted)
	assert.Equal(t, 1, run.TasksFailed)
	assert.Equal(t, 1, run.RetryPasses)

	gm, ok := m.GetGroupMetrics("grp-B")
	require.True(t, ok)
	assert.Equal(t, 1, gm.Completed)
	assert.Equal(t, 1, gm.RetryPasses)
	assert.False(t, gm.Halted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryPasses.WithLabelValues("grp-B")))
}

func TestMetricsCollector_Dispatch(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordDispatch(core.WorkerClaude, 2*time.Second, false)
	m.RecordDispatch(core.WorkerClaude, 4*time.Second, true)

	wm := m.GetWorkerMetrics()[core.WorkerClaude]
	assert.Equal(t, 2, wm.Dispatches)
	assert.Equal(t, 1, wm.Errors)
	assert.Equal(t, 3*time.Second, wm.AvgDuration)
}

func TestMetricsCollector_HaltedGroup(t *testing.T) {
	m := NewMetricsCollector()
	m.StartGroup("grp-E")
	m.EndGroup("grp-E", true)
	assert.Equal(t, 1, m.GetRunMetrics().GroupsHalted)
}

func TestMetricsCollector_Handler(t *testing.T) {
	m := NewMetricsCollector()
	m.SetActiveSlots(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "qgrid_active_slots 2"))
}
