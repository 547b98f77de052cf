package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// DefaultRetryCeiling is the retry count at which a group halts the run.
const DefaultRetryCeiling = 10

// RetryState is the per-group retry state.
type RetryState string

const (
	RetryClean          RetryState = "clean"
	RetryHasOutstanding RetryState = "has_outstanding"
	RetryRetrying       RetryState = "retrying"
	RetryHalted         RetryState = "halted"
)

// RetryStats accumulates retry results for one group.
type RetryStats struct {
	TotalRetries      int       `json:"total_retries"`
	SuccessfulRetries int       `json:"successful_retries"`
	FailedRetries     int       `json:"failed_retries"`
	LastRetryAt       time.Time `json:"last_retry_at,omitempty"`
}

// cellSet maps column -> row -> task.
type cellSet map[int]map[int]core.Task

func (s cellSet) put(t core.Task) {
	rows, ok := s[t.ColumnIndex]
	if !ok {
		rows = make(map[int]core.Task)
		s[t.ColumnIndex] = rows
	}
	rows[t.Row] = t
}

func (s cellSet) remove(ref core.CellRef) {
	rows, ok := s[ref.Col]
	if !ok {
		return
	}
	delete(rows, ref.Row)
	if len(rows) == 0 {
		delete(s, ref.Col)
	}
}

func (s cellSet) len() int {
	n := 0
	for _, rows := range s {
		n += len(rows)
	}
	return n
}

// RetryLedger holds a group's outstanding cells and retry counters.
type RetryLedger struct {
	FailedTasks      cellSet
	EmptyTasks       cellSet
	ResponseFailures cellSet
	RetryCount       int
	Stats            RetryStats
	state            RetryState
}

func newRetryLedger() *RetryLedger {
	return &RetryLedger{
		FailedTasks:      make(cellSet),
		EmptyTasks:       make(cellSet),
		ResponseFailures: make(cellSet),
		state:            RetryClean,
	}
}

// Outstanding returns the union of all three sets, one task per cell,
// ordered by column then row.
func (l *RetryLedger) Outstanding() []core.Task {
	union := make(map[core.CellRef]core.Task)
	for _, set := range []cellSet{l.FailedTasks, l.EmptyTasks, l.ResponseFailures} {
		for _, rows := range set {
			for _, t := range rows {
				union[t.Cell()] = t
			}
		}
	}
	out := make([]core.Task, 0, len(union))
	for _, t := range union {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ColumnIndex != out[j].ColumnIndex {
			return out[i].ColumnIndex < out[j].ColumnIndex
		}
		return out[i].Row < out[j].Row
	})
	return out
}

func (l *RetryLedger) clearCell(ref core.CellRef) {
	l.FailedTasks.remove(ref)
	l.EmptyTasks.remove(ref)
	l.ResponseFailures.remove(ref)
}

// RetryRunner runs a batch of retried tasks and reports every outcome.
type RetryRunner func(ctx context.Context, tasks []core.Task) []core.TaskOutcome

// RetryResult reports one ExecuteGroupRetries call.
type RetryResult struct {
	HasRetries           bool `json:"has_retries"`
	Successful           int  `json:"successful"`
	Failed               int  `json:"failed"`
	ShouldStopProcessing bool `json:"should_stop_processing"`
	RetryCount           int  `json:"retry_count"`
	Outstanding          int  `json:"outstanding"`
}

// SleepFunc waits for d or returns early with an error.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPassFunc is notified before a retry pass runs.
type RetryPassFunc func(groupID string, pass, tasks int, delay time.Duration)

// RetryManager tracks per-group failures and runs escalating retry passes.
type RetryManager struct {
	mu      sync.Mutex
	ledgers map[string]*RetryLedger
	ceiling int
	delays  []time.Duration
	sleep   SleepFunc
	now     func() time.Time
	onPass  RetryPassFunc
	logger  *logging.Logger
}

// RetryManagerOption configures a RetryManager.
type RetryManagerOption func(*RetryManager)

// WithRetryCeiling sets the retry count that halts a group.
func WithRetryCeiling(n int) RetryManagerOption {
	return func(m *RetryManager) {
		if n > 0 {
			m.ceiling = n
		}
	}
}

// WithRetryDelays sets the backoff table indexed by retry count.
func WithRetryDelays(delays []time.Duration) RetryManagerOption {
	return func(m *RetryManager) {
		m.delays = append([]time.Duration(nil), delays...)
	}
}

// WithSleep replaces the function used to wait between passes.
func WithSleep(fn SleepFunc) RetryManagerOption {
	return func(m *RetryManager) {
		m.sleep = fn
	}
}

// WithRetryClock replaces time.Now.
func WithRetryClock(now func() time.Time) RetryManagerOption {
	return func(m *RetryManager) {
		m.now = now
	}
}

// WithRetryPassObserver registers a callback for each retry pass.
func WithRetryPassObserver(fn RetryPassFunc) RetryManagerOption {
	return func(m *RetryManager) {
		m.onPass = fn
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *logging.Logger) RetryManagerOption {
	return func(m *RetryManager) {
		m.logger = l
	}
}

// NewRetryManager creates a manager with the default ceiling and backoff table.
func NewRetryManager(opts ...RetryManagerOption) *RetryManager {
	m := &RetryManager{
		ledgers: make(map[string]*RetryLedger),
		ceiling: DefaultRetryCeiling,
		delays: []time.Duration{
			30 * time.Second, 60 * time.Second, 5 * time.Minute, 10 * time.Minute,
			20 * time.Minute, 40 * time.Minute, 60 * time.Minute, 90 * time.Minute,
			120 * time.Minute, 150 * time.Minute,
		},
		sleep:  sleepCtx,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *RetryManager) ledger(groupID string) *RetryLedger {
	l, ok := m.ledgers[groupID]
	if !ok {
		l = newRetryLedger()
		m.ledgers[groupID] = l
	}
	return l
}

func (m *RetryManager) record(groupID string, t core.Task, pick func(*RetryLedger) cellSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledger(groupID)
	pick(l).put(t)
	if l.state == RetryClean {
		l.state = RetryHasOutstanding
	}
}

// RecordFailure records a worker failure for the task's cell.
func (m *RetryManager) RecordFailure(groupID string, t core.Task) {
	m.record(groupID, t, func(l *RetryLedger) cellSet { return l.FailedTasks })
}

// RecordEmpty records a cell found without a usable answer after dispatch.
func (m *RetryManager) RecordEmpty(groupID string, t core.Task) {
	m.record(groupID, t, func(l *RetryLedger) cellSet { return l.EmptyTasks })
}

// RecordResponseFailure records a failed write-back.
func (m *RetryManager) RecordResponseFailure(groupID string, t core.Task) {
	m.record(groupID, t, func(l *RetryLedger) cellSet { return l.ResponseFailures })
}

// ClearCell forgets a cell that has since been answered.
func (m *RetryManager) ClearCell(groupID string, ref core.CellRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[groupID]
	if !ok {
		return
	}
	l.clearCell(ref)
	if len(l.Outstanding()) == 0 && l.state != RetryHalted {
		l.state = RetryClean
	}
}

// ExecuteGroupRetries runs one retry pass for the group. Every call that
// finds outstanding work increments the retry count; once the count reaches
// the ceiling the group halts without running the pass.
func (m *RetryManager) ExecuteGroupRetries(ctx context.Context, groupID string, runner RetryRunner) (RetryResult, error) {
	m.mu.Lock()
	l := m.ledger(groupID)
	if l.state == RetryHalted {
		res := RetryResult{HasRetries: true, ShouldStopProcessing: true, RetryCount: l.RetryCount, Outstanding: len(l.Outstanding())}
		m.mu.Unlock()
		return res, nil
	}
	pending := l.Outstanding()
	if len(pending) == 0 {
		l.state = RetryClean
		res := RetryResult{RetryCount: l.RetryCount}
		m.mu.Unlock()
		return res, nil
	}

	l.RetryCount++
	count := l.RetryCount
	if count >= m.ceiling {
		l.state = RetryHalted
		m.mu.Unlock()
		m.logger.Error("retry ceiling reached, halting",
			"group", groupID, "retry_count", count, "outstanding", len(pending))
		return RetryResult{
			HasRetries:           true,
			ShouldStopProcessing: true,
			RetryCount:           count,
			Outstanding:          len(pending),
		}, nil
	}
	l.state = RetryRetrying
	delay := m.delayFor(count)
	m.mu.Unlock()

	if m.onPass != nil {
		m.onPass(groupID, count, len(pending), delay)
	}
	m.logger.Info("retry pass scheduled",
		"group", groupID, "pass", count, "tasks", len(pending), "delay", delay)

	if err := m.sleep(ctx, delay); err != nil {
		m.mu.Lock()
		l.state = RetryHasOutstanding
		m.mu.Unlock()
		return RetryResult{HasRetries: true, RetryCount: count, Outstanding: len(pending)}, err
	}

	now := m.now()
	retries := make([]core.Task, len(pending))
	for i, t := range pending {
		retries[i] = t.Retry(now)
	}
	outcomes := runner(ctx, retries)

	m.mu.Lock()
	defer m.mu.Unlock()

	res := RetryResult{HasRetries: true, RetryCount: count}
	for _, o := range outcomes {
		if o.Succeeded() {
			l.clearCell(o.Task.Cell())
			res.Successful++
		} else {
			res.Failed++
		}
	}
	l.Stats.TotalRetries += len(retries)
	l.Stats.SuccessfulRetries += res.Successful
	l.Stats.FailedRetries += res.Failed
	l.Stats.LastRetryAt = now

	res.Outstanding = len(l.Outstanding())
	if res.Outstanding == 0 {
		l.state = RetryClean
	} else {
		l.state = RetryHasOutstanding
	}
	return res, nil
}

func (m *RetryManager) delayFor(count int) time.Duration {
	if len(m.delays) == 0 {
		return 0
	}
	idx := count - 1
	if idx >= len(m.delays) {
		idx = len(m.delays) - 1
	}
	return m.delays[idx]
}

// State returns the group's retry state.
func (m *RetryManager) State(groupID string) RetryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[groupID]
	if !ok {
		return RetryClean
	}
	return l.state
}

// RetryCount returns the group's retry count.
func (m *RetryManager) RetryCount(groupID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[groupID]; ok {
		return l.RetryCount
	}
	return 0
}

// Stats returns the group's accumulated retry stats.
func (m *RetryManager) Stats(groupID string) RetryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[groupID]; ok {
		return l.Stats
	}
	return RetryStats{}
}

// Outstanding returns the group's outstanding tasks.
func (m *RetryManager) Outstanding(groupID string) []core.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[groupID]; ok {
		return l.Outstanding()
	}
	return nil
}

// Counts returns the sizes of the failed, empty and response-failure sets.
func (m *RetryManager) Counts(groupID string) (failed, empty, responseFailed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ledgers[groupID]; ok {
		return l.FailedTasks.len(), l.EmptyTasks.len(), l.ResponseFailures.len()
	}
	return 0, 0, 0
}

// Halted reports whether any group has halted, returning its id.
func (m *RetryManager) Halted() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id, l := range m.ledgers {
		if l.state == RetryHalted {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}
