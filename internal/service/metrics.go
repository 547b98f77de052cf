package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// MetricsCollector collects run metrics in memory and exports them to Prometheus.
type MetricsCollector struct {
	run     RunMetrics
	groups  map[string]*GroupMetrics
	workers map[core.WorkerKind]*WorkerMetrics
	mu      sync.RWMutex

	registry      *prometheus.Registry
	tasksTotal    *prometheus.CounterVec
	retryPasses   *prometheus.CounterVec
	activeSlots   prometheus.Gauge
	groupDuration *prometheus.HistogramVec
	dispatchTime  *prometheus.HistogramVec
}

// RunMetrics holds run-level counters.
type RunMetrics struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	TotalDuration  time.Duration `json:"total_duration"`
	TasksTotal     int           `json:"tasks_total"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	RetryPasses    int           `json:"retry_passes"`
	GroupsHalted   int           `json:"groups_halted"`
}

// GroupMetrics holds per-group counters.
type GroupMetrics struct {
	GroupID     string        `json:"group_id"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	RetryPasses int           `json:"retry_passes"`
	Halted      bool          `json:"halted"`
}

// WorkerMetrics holds per-worker-kind dispatch stats.
type WorkerMetrics struct {
	Kind          core.WorkerKind `json:"kind"`
	Dispatches    int             `json:"dispatches"`
	Errors        int             `json:"errors"`
	TotalDuration time.Duration   `json:"total_duration"`
	AvgDuration   time.Duration   `json:"avg_duration"`
}

// NewMetricsCollector creates a collector with its own Prometheus registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	const namespace = "qgrid"

	return &MetricsCollector{
		groups:   make(map[string]*GroupMetrics),
		workers:  make(map[core.WorkerKind]*WorkerMetrics),
		registry: reg,
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task outcomes by status.",
		}, []string{"status"}),
		retryPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_passes_total",
			Help:      "Retry passes by group.",
		}, []string{"group"}),
		activeSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Execution slots currently running a task.",
		}),
		groupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_duration_seconds",
			Help:      "Wall time spent processing a group.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"group", "outcome"}),
		dispatchTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Worker dispatch latency by worker kind.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"worker"}),
	}
}

// Handler serves the collector's registry in Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// StartRun marks run start.
func (m *MetricsCollector) StartRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.StartTime = time.Now()
}

// EndRun marks run end.
func (m *MetricsCollector) EndRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.EndTime = time.Now()
	m.run.TotalDuration = m.run.EndTime.Sub(m.run.StartTime)
}

// StartGroup marks a group as current.
func (m *MetricsCollector) StartGroup(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gm, ok := m.groups[groupID]
	if !ok {
		gm = &GroupMetrics{GroupID: groupID}
		m.groups[groupID] = gm
	}
	gm.StartTime = time.Now()
}

// EndGroup records the group's duration and outcome.
func (m *MetricsCollector) EndGroup(groupID string, halted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gm, ok := m.groups[groupID]
	if !ok {
		return
	}
	gm.Duration = time.Since(gm.StartTime)
	gm.Halted = halted
	outcome := "completed"
	if halted {
		outcome = "halted"
		m.run.GroupsHalted++
	}
	m.groupDuration.WithLabelValues(groupID, outcome).Observe(gm.Duration.Seconds())
}

// RecordOutcome records a task outcome.
func (m *MetricsCollector) RecordOutcome(o core.TaskOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasksTotal.WithLabelValues(string(o.Status)).Inc()
	m.run.TasksTotal++
	gm := m.groups[o.Task.GroupID]
	if o.Succeeded() {
		m.run.TasksCompleted++
		if gm != nil {
			gm.Completed++
		}
	} else {
		m.run.TasksFailed++
		if gm != nil {
			gm.Failed++
		}
	}
}

// RecordDispatch records a worker call.
func (m *MetricsCollector) RecordDispatch(kind core.WorkerKind, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wm, ok := m.workers[kind]
	if !ok {
		wm = &WorkerMetrics{Kind: kind}
		m.workers[kind] = wm
	}
	wm.Dispatches++
	wm.TotalDuration += d
	wm.AvgDuration = wm.TotalDuration / time.Duration(wm.Dispatches)
	if failed {
		wm.Errors++
	}
	m.dispatchTime.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RecordRetryPass records one group retry pass.
func (m *MetricsCollector) RecordRetryPass(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.RetryPasses++
	if gm, ok := m.groups[groupID]; ok {
		gm.RetryPasses++
	}
	m.retryPasses.WithLabelValues(groupID).Inc()
}

// SetActiveSlots reports how many slots are busy.
func (m *MetricsCollector) SetActiveSlots(n int) {
	m.activeSlots.Set(float64(n))
}

// GetRunMetrics returns a copy of run metrics.
func (m *MetricsCollector) GetRunMetrics() RunMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.run
}

// GetGroupMetrics returns a copy of one group's metrics.
func (m *MetricsCollector) GetGroupMetrics(groupID string) (GroupMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gm, ok := m.groups[groupID]
	if !ok {
		return GroupMetrics{}, false
	}
	return *gm, true
}

// GetWorkerMetrics returns a copy of per-kind dispatch stats.
func (m *MetricsCollector) GetWorkerMetrics() map[core.WorkerKind]WorkerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[core.WorkerKind]WorkerMetrics, len(m.workers))
	for k, v := range m.workers {
		out[k] = *v
	}
	return out
}
