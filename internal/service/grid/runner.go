package grid

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

func (r *run) taskFunc(g *core.TaskGroup) TaskFunc {
	return func(ctx context.Context, slot *Slot, t core.Task) core.TaskOutcome {
		return r.execute(ctx, slot, g, t)
	}
}

// execute claims the cell, dispatches the task to the slot's worker and
// writes the answer back. Worker and write-back failures are recorded in
// the retry ledger as they happen.
func (r *run) execute(ctx context.Context, slot *Slot, g *core.TaskGroup, t core.Task) core.TaskOutcome {
	start := r.s.deps.Now()
	ref := t.Cell()
	log := r.logger.WithTaskGroup(g.ID).WithTask(string(t.ID), t.Key()).WithWorker(string(t.WorkerKind))
	r.dispatched.Add(ref)

	claim, err := r.leases.Claim(ctx, ref, t.FeatureHint)
	if err != nil {
		r.retries.RecordFailure(g.ID, t)
		return r.finish(g, t, core.TaskStatusFailed, "", fmt.Errorf("claiming %s: %w", ref, err), start)
	}
	switch claim {
	case service.ClaimAnswered:
		return r.finish(g, t, core.TaskStatusAlreadyAnswered, "", nil, start)
	case service.ClaimHeld, service.ClaimLostRace:
		log.Debug("claim denied", "outcome", claim)
		return r.finish(g, t, core.TaskStatusClaimDenied, "", core.ErrClaimDenied(ref, string(claim)), start)
	}

	r.inflight.Add(ref)
	defer r.inflight.Remove(ref)

	worker, err := slot.Bind(ctx, t.WorkerKind)
	if err != nil {
		return r.abandon(ctx, g, t, err, start)
	}
	if r.limits != nil {
		if err := r.limits.Wait(ctx, t.WorkerKind); err != nil {
			return r.abandon(ctx, g, t, err, start)
		}
	}

	log.Debug("dispatching", "attempt", t.Attempt, "kind", t.Kind, "model", t.ModelHint, "function", t.FeatureHint)
	dispatchStart := r.s.deps.Now()
	res, err := r.dispatch(ctx, worker, g, t)
	elapsed := r.s.deps.Now().Sub(dispatchStart)
	failed := err != nil || res == nil || !res.Success
	if r.metrics != nil {
		r.metrics.RecordDispatch(t.WorkerKind, elapsed, failed)
	}
	if failed {
		if err == nil {
			msg := "worker reported failure"
			if res != nil && res.Error != "" {
				msg = res.Error
			}
			err = core.ErrWorkerFailure(t.WorkerKind, msg)
		}
		r.appendLog(ctx, g, t, res, false)
		return r.abandon(ctx, g, t, err, start)
	}

	if err := r.leases.Release(ctx, ref, res.Output); err != nil {
		r.retries.RecordResponseFailure(g.ID, t)
		return r.finish(g, t, core.TaskStatusResponseFailed, res.Output, err, start)
	}
	r.appendLog(ctx, g, t, res, true)

	if !core.HasAnswer(res.Output) {
		// Left for the reconciliation sweep, which re-reads the cell.
		return r.finish(g, t, core.TaskStatusEmpty, res.Output, core.ErrEmptyResult(ref), start)
	}
	return r.finish(g, t, core.TaskStatusCompleted, res.Output, nil, start)
}

// dispatch runs the worker, turning a panic into a retryable worker failure.
func (r *run) dispatch(ctx context.Context, worker core.Worker, g *core.TaskGroup, t core.Task) (res *core.DispatchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			dump := r.s.deps.Crash.Capture(p, debug.Stack(), diagnostics.TaskContext{
				RunID:      r.id,
				GroupID:    g.ID,
				Cell:       t.Key(),
				WorkerKind: t.WorkerKind,
				Attempt:    t.Attempt,
			})
			werr := core.ErrWorkerFailure(t.WorkerKind, fmt.Sprintf("worker panicked: %v", p))
			if dump != "" {
				werr = werr.WithDetail("crash_dump", dump)
			}
			res, err = nil, werr
		}
	}()
	return worker.Dispatch(ctx, t)
}

// abandon records a failure and clears this identity's marker so other
// processes can pick the cell up.
func (r *run) abandon(ctx context.Context, g *core.TaskGroup, t core.Task, cause error, start time.Time) core.TaskOutcome {
	r.retries.RecordFailure(g.ID, t)
	if err := r.leases.Release(ctx, t.Cell(), ""); err != nil {
		r.logger.WithTaskGroup(g.ID).Warn("could not clear lease marker", "cell", t.Key(), "error", err)
	}
	return r.finish(g, t, core.TaskStatusFailed, "", cause, start)
}

func (r *run) finish(g *core.TaskGroup, t core.Task, status core.TaskStatus, output string, err error, start time.Time) core.TaskOutcome {
	o := core.TaskOutcome{
		Task:     t,
		Status:   status,
		Output:   output,
		Err:      err,
		Duration: r.s.deps.Now().Sub(start),
	}

	r.mu.Lock()
	switch status {
	case core.TaskStatusCompleted:
		r.completed++
	case core.TaskStatusAlreadyAnswered, core.TaskStatusClaimDenied:
		r.skipped++
	default:
		r.failed++
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordOutcome(o)
	}
	log := r.logger.WithTaskGroup(g.ID)
	switch status {
	case core.TaskStatusCompleted:
		log.Info("task completed", "cell", t.Key(), "worker", t.WorkerKind, "attempt", t.Attempt,
			"duration", o.Duration.Round(time.Millisecond))
		r.publish(events.NewTaskCompletedEvent(r.id, g.ID, string(t.ID), t.Key(), string(t.WorkerKind), t.Attempt, o.Duration))
	case core.TaskStatusAlreadyAnswered, core.TaskStatusClaimDenied:
		log.Debug("task skipped", "cell", t.Key(), "status", status)
	default:
		log.Warn("task did not settle", "cell", t.Key(), "status", status, "error", err)
		r.publish(events.NewTaskFailedEvent(r.id, g.ID, string(t.ID), t.Key(), string(status), err))
	}
	return o
}

// appendLog adds one line to the group's log cell for the task's row.
// Failures are logged and otherwise ignored.
func (r *run) appendLog(ctx context.Context, g *core.TaskGroup, t core.Task, res *core.DispatchResult, ok bool) {
	if !g.Columns.HasLog() {
		return
	}
	model := t.ModelHint
	if res != nil && res.Model != "" {
		model = res.Model
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	line := strings.Join(nonEmpty(
		r.s.deps.Now().Format(time.RFC3339),
		string(t.WorkerKind),
		model,
		t.FeatureHint,
		result,
	), " ")

	ref := core.Cell(t.Row, g.Columns.LogColumn)
	r.logMu.Lock()
	defer r.logMu.Unlock()
	vals, err := r.store.BatchGet(ctx, []core.CellRef{ref})
	if err == nil {
		value := line
		if prev := strings.TrimRight(vals[ref], "\n"); prev != "" {
			value = prev + "\n" + line
		}
		err = r.store.SetCell(ctx, ref, value)
	}
	if err != nil {
		r.logger.WithTaskGroup(g.ID).Debug("log column write failed", "cell", ref.String(), "error", err)
	}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// retryRunner re-dispatches outstanding tasks of a group.
func (r *run) retryRunner(g *core.TaskGroup) service.RetryRunner {
	if g.Type.Special() {
		return func(ctx context.Context, tasks []core.Task) []core.TaskOutcome {
			out := make([]core.TaskOutcome, 0, len(tasks))
			for _, t := range tasks {
				out = append(out, r.produce(ctx, g, t))
			}
			return out
		}
	}
	pool := r.single
	if g.Type == core.GroupFanout {
		pool = r.fanout
	}
	exec := r.taskFunc(g)
	return func(ctx context.Context, tasks []core.Task) []core.TaskOutcome {
		return pool.RunBatch(ctx, tasks, exec)
	}
}
