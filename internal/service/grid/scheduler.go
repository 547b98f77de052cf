package grid

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/control"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// Phase is the scheduler's position in its loop.
type Phase string

const (
	PhaseNotStarted  Phase = "not_started"
	PhaseAnalyzing   Phase = "analyzing_structure"
	PhaseResolving   Phase = "resolving_dependencies"
	PhaseGenerating  Phase = "generating_tasks"
	PhaseDispatching Phase = "dispatching"
	PhaseReconciling Phase = "reconciling_retries"
	PhaseWaiting     Phase = "waiting_dependencies"
	PhaseHalted      Phase = "halted"
	PhaseDone        Phase = "done"
)

// Options tunes the scheduler.
type Options struct {
	MaxIterations    int
	PollInterval     time.Duration
	Slots            int
	FanoutSlots      int
	BatchSize        int
	ControlScanRows  int
	RetryCeiling     int
	RetryDelays      []time.Duration
	Identity         string
	LeaseDefault     time.Duration
	LeaseFunctions   map[string]time.Duration
	LeaseWaitTimeout time.Duration
	WriteAttempts    int
	WriteBaseDelay   time.Duration
}

// DefaultOptions returns the built-in scheduler settings.
func DefaultOptions() Options {
	return Options{
		MaxIterations:   50,
		PollInterval:    5 * time.Second,
		Slots:           3,
		FanoutSlots:     4,
		BatchSize:       DefaultBatchSize,
		ControlScanRows: DefaultControlScanRows,
		RetryCeiling:    service.DefaultRetryCeiling,
		RetryDelays:     config.DefaultRetryDelays(),
		LeaseDefault:    service.DefaultLeaseDuration,
		LeaseFunctions:  config.DefaultFunctionMaxDurations(),
		WriteAttempts:   3,
		WriteBaseDelay:  500 * time.Millisecond,
	}
}

// OptionsFromConfig maps loaded configuration onto scheduler options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxIterations:    cfg.Scheduler.MaxIterations,
		PollInterval:     cfg.Scheduler.PollInterval,
		Slots:            cfg.Scheduler.Slots,
		FanoutSlots:      cfg.Scheduler.FanoutSlots,
		BatchSize:        cfg.Scheduler.BatchSize,
		ControlScanRows:  cfg.Scheduler.ControlScanRows,
		RetryCeiling:     cfg.Retry.MaxPasses,
		RetryDelays:      cfg.Retry.Delays,
		Identity:         cfg.Scheduler.Identity,
		LeaseDefault:     cfg.Lease.DefaultMaxDuration,
		LeaseFunctions:   cfg.Lease.FunctionMaxDurations,
		LeaseWaitTimeout: cfg.Lease.WaitTimeout,
		WriteAttempts:    cfg.Retry.WriteAttempts,
		WriteBaseDelay:   cfg.Retry.WriteBaseDelay,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Slots <= 0 {
		o.Slots = d.Slots
	}
	if o.FanoutSlots <= 0 {
		o.FanoutSlots = d.FanoutSlots
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.ControlScanRows <= 0 {
		o.ControlScanRows = d.ControlScanRows
	}
	if o.RetryCeiling <= 0 {
		o.RetryCeiling = d.RetryCeiling
	}
	if o.RetryDelays == nil {
		o.RetryDelays = d.RetryDelays
	}
	if o.LeaseDefault <= 0 {
		o.LeaseDefault = d.LeaseDefault
	}
	if o.WriteAttempts <= 0 {
		o.WriteAttempts = d.WriteAttempts
	}
	if o.WriteBaseDelay <= 0 {
		o.WriteBaseDelay = d.WriteBaseDelay
	}
	return o
}

// Deps are the collaborators injected into the scheduler. Only Factory is
// required.
type Deps struct {
	Factory  core.WorkerFactory
	Producer core.SideEffectProducer
	Limits   *service.RateLimiterRegistry
	Metrics  *service.MetricsCollector
	Bus      *events.EventBus
	Control  *control.ControlPlane
	Logger   *logging.Logger
	// Crash records dumps for workers that panic; nil still recovers.
	Crash *diagnostics.CrashDumpWriter
	// Sleep replaces the wait between retry passes.
	Sleep service.SleepFunc
	Now   func() time.Time
}

// RunOptions selects what one Run processes.
type RunOptions struct {
	// TaskGroups restricts the run to these group ids. Dependencies on
	// groups outside the list count as satisfied.
	TaskGroups []string
	// TestMode runs a single batch per group without retry delays and
	// reconciles only the cells dispatched in this run.
	TestMode bool
}

// GroupResult summarizes one processed group.
type GroupResult struct {
	ID          string         `json:"id"`
	Type        core.GroupType `json:"type"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	RetryPasses int            `json:"retry_passes"`
	Halted      bool           `json:"halted"`
	// SkipReason is set when the group's pending cells were left untouched.
	SkipReason string        `json:"skip_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunResult is returned by Run even when tasks failed.
type RunResult struct {
	RunID       string        `json:"run_id"`
	Success     bool          `json:"success"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	TotalTime   time.Duration `json:"total_time"`
	HaltedGroup string        `json:"halted_group,omitempty"`
	Stopped     bool          `json:"stopped"`
	// CapReached is set when the iteration cap ended the run with groups pending.
	CapReached bool `json:"cap_reached"`
	// SkippedGroups lists groups that could not be served at all.
	SkippedGroups []string      `json:"skipped_groups,omitempty"`
	Iterations    int           `json:"iterations"`
	Groups        []GroupResult `json:"groups"`
}

// Status is a snapshot of the scheduler for the control surface.
type Status struct {
	RunID        string   `json:"run_id,omitempty"`
	Running      bool     `json:"running"`
	Paused       bool     `json:"paused"`
	Stopped      bool     `json:"stopped"`
	Phase        Phase    `json:"phase"`
	CurrentGroup string   `json:"current_group,omitempty"`
	QueueDepth   int      `json:"queue_depth"`
	ActiveSlots  int      `json:"active_slots"`
	Iteration    int      `json:"iteration"`
	Processed    []string `json:"processed,omitempty"`
	Identity     string   `json:"identity"`
}

// Scheduler drives groups through analysis, dispatch and retry
// reconciliation, one group at a time.
type Scheduler struct {
	opts     Options
	deps     Deps
	identity string
	seen     *CellSet
	analyzer *Analyzer
	logger   *logging.Logger

	mu     sync.RWMutex
	status Status
	active func() int
}

// New creates a scheduler.
func New(opts Options, deps Deps) *Scheduler {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Control == nil {
		deps.Control = control.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = deps.Control.Sleep
	}
	identity := opts.Identity
	if identity == "" {
		identity = service.NewIdentity()
	}
	return &Scheduler{
		opts:     opts,
		deps:     deps,
		identity: identity,
		seen:     NewCellSet(),
		analyzer: NewAnalyzer(opts.ControlScanRows, deps.Logger),
		logger:   deps.Logger.WithComponent("scheduler"),
		status:   Status{Phase: PhaseNotStarted, Identity: identity},
	}
}

// Identity returns the lease identity of this scheduler.
func (s *Scheduler) Identity() string {
	return s.identity
}

// Analyze runs structure analysis only.
func (s *Scheduler) Analyze(ctx context.Context, store core.TabularStore) (*core.Layout, error) {
	return s.analyzer.Analyze(ctx, store)
}

// Stop asks the loop to exit. Dispatched tasks finish first.
func (s *Scheduler) Stop() { s.deps.Control.Stop() }

// Pause holds the loop before the next batch or group.
func (s *Scheduler) Pause() { s.deps.Control.Pause() }

// Resume continues a paused loop.
func (s *Scheduler) Resume() { s.deps.Control.Resume() }

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := s.status
	active := s.active
	s.mu.RUnlock()
	st.Processed = append([]string(nil), st.Processed...)
	cs := s.deps.Control.Status()
	st.Paused, st.Stopped = cs.Paused, cs.Stopped
	if active != nil {
		st.ActiveSlots = active()
	}
	return st
}

func (s *Scheduler) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Run processes every ready group of the store until no group is left, a
// group halts on the retry ceiling, Stop is called or the iteration cap is
// reached. Task failures are reported in the result; only structural
// problems and context cancellation return an error.
func (s *Scheduler) Run(ctx context.Context, store core.TabularStore, ro RunOptions) (*RunResult, error) {
	start := s.deps.Now()
	r := s.newRun(store, ro)
	defer r.close()

	s.mu.Lock()
	s.status = Status{RunID: r.id, Running: true, Phase: PhaseAnalyzing, Identity: s.identity}
	s.active = func() int { return r.single.Active() + r.fanout.Active() }
	s.mu.Unlock()

	if r.metrics != nil {
		r.metrics.StartRun()
	}
	r.publish(events.NewRunStartedEvent(r.id, s.identity, ro.TaskGroups, ro.TestMode))
	r.logger.Info("run started", "identity", s.identity, "test_mode", ro.TestMode, "groups", ro.TaskGroups)

	result := &RunResult{RunID: r.id}
	err := r.loop(ctx, result)

	result.TotalTime = s.deps.Now().Sub(start)
	result.Completed, result.Failed, result.Skipped = r.counts()
	result.Total = result.Completed + result.Failed + result.Skipped
	for _, gr := range result.Groups {
		if gr.SkipReason != "" {
			result.SkippedGroups = append(result.SkippedGroups, gr.ID)
		}
	}
	result.Success = err == nil && result.HaltedGroup == "" && !result.Stopped && !result.CapReached &&
		len(result.SkippedGroups) == 0

	phase := PhaseDone
	if result.HaltedGroup != "" {
		phase = PhaseHalted
	}
	s.update(func(st *Status) {
		st.Running = false
		st.Phase = phase
		st.CurrentGroup = ""
	})
	if r.metrics != nil {
		r.metrics.EndRun()
	}
	r.publishPriority(events.NewRunCompletedEvent(r.id, result.Success, result.Total,
		result.Completed, result.Failed, result.HaltedGroup, result.TotalTime))
	r.logger.Info("run finished",
		"success", result.Success,
		"completed", result.Completed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"skipped_groups", result.SkippedGroups,
		"halted_group", result.HaltedGroup,
		"duration", result.TotalTime.Round(time.Millisecond),
	)
	return result, err
}

// run holds the state of a single Run call.
type run struct {
	s        *Scheduler
	id       string
	opts     Options
	ro       RunOptions
	store    core.TabularStore
	filter   map[string]bool
	leases   *service.LeaseManager
	retries  *service.RetryManager
	gen      *Generator
	single   *SlotPool
	fanout   *SlotPool
	ctrl     *control.ControlPlane
	limits   *service.RateLimiterRegistry
	metrics  *service.MetricsCollector
	bus      *events.EventBus
	producer core.SideEffectProducer
	logger   *logging.Logger

	inflight   *CellSet
	dispatched *CellSet
	logMu      sync.Mutex

	mu        sync.Mutex
	completed int
	failed    int
	skipped   int
}

func (s *Scheduler) newRun(store core.TabularStore, ro RunOptions) *run {
	id := uuid.NewString()
	logger := s.deps.Logger.WithRun(id)
	r := &run{
		s:          s,
		id:         id,
		opts:       s.opts,
		ro:         ro,
		store:      store,
		ctrl:       s.deps.Control,
		limits:     s.deps.Limits,
		metrics:    s.deps.Metrics,
		bus:        s.deps.Bus,
		producer:   s.deps.Producer,
		logger:     logger.WithComponent("scheduler"),
		inflight:   NewCellSet(),
		dispatched: NewCellSet(),
	}
	if len(ro.TaskGroups) > 0 {
		r.filter = make(map[string]bool, len(ro.TaskGroups))
		for _, id := range ro.TaskGroups {
			r.filter[id] = true
		}
	}
	r.leases = service.NewLeaseManager(store, service.LeaseConfig{
		Identity:             s.identity,
		DefaultMaxDuration:   s.opts.LeaseDefault,
		FunctionMaxDurations: s.opts.LeaseFunctions,
		WritePolicy:          service.StoreWriteRetryPolicy(s.opts.WriteAttempts, s.opts.WriteBaseDelay),
		Now:                  s.deps.Now,
		Logger:               logger,
	})

	delays := s.opts.RetryDelays
	if ro.TestMode {
		delays = nil
	}
	r.retries = service.NewRetryManager(
		service.WithRetryCeiling(s.opts.RetryCeiling),
		service.WithRetryDelays(delays),
		service.WithSleep(s.deps.Sleep),
		service.WithRetryClock(s.deps.Now),
		service.WithRetryLogger(logger.WithComponent("retry")),
		service.WithRetryPassObserver(func(groupID string, pass, tasks int, delay time.Duration) {
			if r.metrics != nil {
				r.metrics.RecordRetryPass(groupID)
			}
			r.publish(events.NewRetryPassEvent(r.id, groupID, pass, tasks, delay))
		}),
	)

	r.gen = NewGenerator(r.leases, s.seen, logger)
	r.gen.now = s.deps.Now
	r.single = NewSlotPool(s.opts.Slots, s.deps.Factory)
	r.fanout = NewSlotPool(s.opts.FanoutSlots, s.deps.Factory)
	onActive := func(int) {
		if r.metrics != nil {
			r.metrics.SetActiveSlots(r.single.Active() + r.fanout.Active())
		}
	}
	r.single.OnActiveChange(onActive)
	r.fanout.OnActiveChange(onActive)
	return r
}

func (r *run) close() {
	if err := errors.Join(r.single.Close(), r.fanout.Close()); err != nil {
		r.logger.Warn("closing worker handles", "error", err)
	}
}

func (r *run) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func (r *run) publishPriority(e events.Event) {
	if r.bus != nil {
		r.bus.PublishPriority(e)
	}
}

func (r *run) phase(p Phase) {
	r.s.update(func(st *Status) { st.Phase = p })
}

func (r *run) counts() (completed, failed, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.failed, r.skipped
}

func (r *run) inScope(id string) bool {
	return r.filter == nil || r.filter[id]
}

// stopped converts an operator stop into a clean loop exit.
func (r *run) stopped(err error, result *RunResult) error {
	if r.ctrl.IsStopped() && (err == nil || core.IsCategory(err, core.ErrCatCancelled)) {
		result.Stopped = true
		r.logger.Info("run stopped by operator")
		return nil
	}
	return err
}

func (r *run) loop(ctx context.Context, result *RunResult) error {
	processed := make(map[string]bool)
	for iter := 1; ; iter++ {
		if iter > r.opts.MaxIterations {
			result.CapReached = true
			r.logger.Warn("iteration cap reached", "max_iterations", r.opts.MaxIterations)
			return nil
		}
		result.Iterations = iter
		r.s.update(func(st *Status) { st.Iteration = iter })

		if err := r.ctrl.WaitIfPaused(ctx); err != nil {
			return err
		}
		if r.ctrl.IsStopped() {
			return r.stopped(nil, result)
		}

		r.phase(PhaseAnalyzing)
		layout, err := r.s.analyzer.Analyze(ctx, r.store)
		if err != nil {
			return err
		}

		r.phase(PhaseResolving)
		graph, _, err := service.BuildGroupGraph(layout.Groups)
		if err != nil {
			return err
		}
		var pending []string
		for _, g := range layout.Groups {
			if r.inScope(g.ID) && !processed[g.ID] {
				pending = append(pending, g.ID)
			}
		}
		r.s.update(func(st *Status) { st.QueueDepth = len(pending) })
		if len(pending) == 0 {
			return nil
		}

		var next *core.TaskGroup
		for _, g := range graph.ReadyGroups(processed, func(id string) bool { return !r.inScope(id) }) {
			if r.inScope(g.ID) {
				next = g
				break
			}
		}
		if next == nil {
			r.phase(PhaseWaiting)
			r.logger.Debug("no group ready, waiting", "pending", pending, "poll", r.opts.PollInterval)
			if err := r.ctrl.Sleep(ctx, r.opts.PollInterval); err != nil {
				return r.stopped(err, result)
			}
			continue
		}

		gr, err := r.processGroup(ctx, layout, next)
		result.Groups = append(result.Groups, gr)
		if err != nil {
			return r.stopped(err, result)
		}
		if gr.Halted {
			result.HaltedGroup = next.ID
			return nil
		}
		processed[next.ID] = true
		r.s.update(func(st *Status) {
			st.Processed = append(st.Processed, next.ID)
			sort.Strings(st.Processed)
		})
	}
}

// checkpoint holds while paused and reports a stop as ErrCancelled.
func (r *run) checkpoint(ctx context.Context) error {
	if err := r.ctrl.WaitIfPaused(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.ctrl.CheckStopped()
}

func (r *run) processGroup(ctx context.Context, layout *core.Layout, g *core.TaskGroup) (GroupResult, error) {
	start := r.s.deps.Now()
	gr := GroupResult{ID: g.ID, Type: g.Type}
	log := r.logger.WithTaskGroup(g.ID)
	log.Info("group started", "type", g.Type, "sequence", g.SequenceOrder, "dependencies", g.Dependencies)

	r.s.update(func(st *Status) { st.CurrentGroup = g.ID })
	if r.metrics != nil {
		r.metrics.StartGroup(g.ID)
	}
	r.publish(events.NewGroupStartedEvent(r.id, g.ID, string(g.Type), g.SequenceOrder))

	var (
		outcomes []core.TaskOutcome
		err      error
	)
	r.phase(PhaseGenerating)
	if g.Type.Special() && r.producer == nil {
		r.skipUnserved(ctx, layout, g, &gr)
		gr.Duration = r.s.deps.Now().Sub(start)
		if r.metrics != nil {
			r.metrics.EndGroup(g.ID, false)
		}
		r.publish(events.NewGroupCompletedEvent(r.id, g.ID, 0, 0, gr.Duration))
		return gr, nil
	}
	switch {
	case g.Type.Special():
		outcomes, err = r.runSideEffects(ctx, layout, g)
	case g.Type == core.GroupFanout:
		outcomes, err = r.runFanout(ctx, layout, g)
	default:
		outcomes, err = r.runSingle(ctx, layout, g)
	}
	tally(&gr, outcomes)
	if err != nil {
		gr.Duration = r.s.deps.Now().Sub(start)
		return gr, err
	}

	r.phase(PhaseReconciling)
	retryOutcomes, halted, err := r.reconcileAndRetry(ctx, layout, g)
	tally(&gr, retryOutcomes)
	gr.RetryPasses = r.retries.RetryCount(g.ID)
	gr.Halted = halted
	gr.Duration = r.s.deps.Now().Sub(start)
	if err != nil {
		return gr, err
	}

	if r.metrics != nil {
		r.metrics.EndGroup(g.ID, halted)
	}
	if halted {
		outstanding := len(r.retries.Outstanding(g.ID))
		failed, empty, responseFailed := r.retries.Counts(g.ID)
		log.Error("group halted on retry ceiling", "passes", gr.RetryPasses, "outstanding", outstanding,
			"failed", failed, "empty", empty, "response_failed", responseFailed)
		r.publishPriority(events.NewGroupHaltedEvent(r.id, g.ID, gr.RetryPasses, outstanding))
		return gr, nil
	}
	log.Info("group completed",
		"completed", gr.Completed, "failed", gr.Failed, "retry_passes", gr.RetryPasses,
		"duration", gr.Duration.Round(time.Millisecond))
	r.publish(events.NewGroupCompletedEvent(r.id, g.ID, gr.Completed, gr.Failed, gr.Duration))
	return gr, nil
}

func tally(gr *GroupResult, outcomes []core.TaskOutcome) {
	for _, o := range outcomes {
		switch o.Status {
		case core.TaskStatusCompleted:
			gr.Completed++
		case core.TaskStatusAlreadyAnswered, core.TaskStatusClaimDenied:
			gr.Skipped++
		default:
			gr.Failed++
		}
	}
}

// runSingle dispatches batches until the generator finds nothing left.
func (r *run) runSingle(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.TaskOutcome, error) {
	var all []core.TaskOutcome
	for {
		if err := r.checkpoint(ctx); err != nil {
			return all, err
		}
		r.phase(PhaseGenerating)
		tasks, err := r.gen.Scan(ctx, r.store, layout, g, layout.WorkRows, ScanOptions{Limit: r.opts.BatchSize})
		if err != nil {
			r.logger.WithTaskGroup(g.ID).Warn("scan failed, leaving rows to reconciliation", "error", err)
			return all, nil
		}
		if len(tasks) == 0 {
			return all, nil
		}
		r.phase(PhaseDispatching)
		all = append(all, r.single.RunBatch(ctx, tasks, r.taskFunc(g))...)
		if r.ro.TestMode {
			return all, nil
		}
	}
}

// runFanout gives every answer column its own slot; each lane walks its
// column's rows sequentially.
func (r *run) runFanout(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.TaskOutcome, error) {
	cols := g.Columns.AnswerColumns
	exec := r.taskFunc(g)
	r.phase(PhaseDispatching)
	out := r.fanout.RunLanes(ctx, len(cols), func(ctx context.Context, slot *Slot, lane int) []core.TaskOutcome {
		var res []core.TaskOutcome
		log := r.logger.WithTaskGroup(g.ID).With("column", cols[lane].Letter(), "slot", slot.Position)
		for {
			if r.checkpoint(ctx) != nil {
				return res
			}
			tasks, err := r.gen.Scan(ctx, r.store, layout, g, layout.WorkRows, ScanOptions{
				Limit:   r.opts.BatchSize,
				Columns: []int{cols[lane].Index},
			})
			if err != nil {
				log.Warn("scan failed, leaving rows to reconciliation", "error", err)
				return res
			}
			if len(tasks) == 0 {
				return res
			}
			for _, t := range tasks {
				slot.setCurrent(&t)
				o := exec(ctx, slot, t)
				o.Slot = slot.Position
				res = append(res, o)
			}
			slot.setCurrent(nil)
			if r.ro.TestMode {
				return res
			}
		}
	})
	return out, r.checkpoint(ctx)
}
