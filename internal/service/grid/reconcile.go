package grid

import (
	"context"
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// reconcileAndRetry alternates the reconciliation sweep with retry passes
// until the group is clean or halts on the retry ceiling.
func (r *run) reconcileAndRetry(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.TaskOutcome, bool, error) {
	if g.Type.Special() && r.producer == nil {
		return nil, false, nil
	}
	var all []core.TaskOutcome
	runner := r.retryRunner(g)
	for {
		if err := r.checkpoint(ctx); err != nil {
			return all, false, err
		}
		waiting, err := r.reconcile(ctx, layout, g)
		if err != nil {
			return all, false, err
		}
		if len(waiting) > 0 && !r.ro.TestMode {
			if err := r.waitForeign(ctx, layout, g, waiting); err != nil {
				return all, false, err
			}
		}

		res, err := r.retries.ExecuteGroupRetries(ctx, g.ID, func(ctx context.Context, tasks []core.Task) []core.TaskOutcome {
			out := runner(ctx, tasks)
			all = append(all, out...)
			return out
		})
		if err != nil {
			return all, false, err
		}
		if res.ShouldStopProcessing {
			return all, true, nil
		}
		if !res.HasRetries {
			return all, false, nil
		}
		r.logger.WithTaskGroup(g.ID).Info("retry pass finished",
			"pass", res.RetryCount, "successful", res.Successful, "failed", res.Failed, "outstanding", res.Outstanding)
	}
}

// reconcileCells lists the output cells the sweep inspects.
func (r *run) reconcileCells(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.CellRef, error) {
	var cells []core.CellRef
	switch {
	case r.ro.TestMode:
		for _, a := range g.Columns.AnswerColumns {
			for row := layout.WorkRows.Start; row <= layout.WorkRows.End; row++ {
				if ref := core.Cell(row, a.Index); r.dispatched.Has(ref) {
					cells = append(cells, ref)
				}
			}
		}
	case g.Type.Special():
		sc, err := r.sideEffectCells(ctx, layout, g)
		if err != nil {
			return nil, err
		}
		cells = sc
	default:
		cands, err := r.gen.candidates(ctx, r.store, layout, g, layout.WorkRows)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			for _, a := range g.Columns.AnswerColumns {
				cells = append(cells, core.Cell(c.row, a.Index))
			}
		}
	}
	return dedupCells(cells), nil
}

// sideEffectCells returns the output cells whose source answer is present.
func (r *run) sideEffectCells(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.CellRef, error) {
	src := sourceColumn(g)
	if src < 0 || layout.WorkRows.Empty() {
		return nil, nil
	}
	out := g.Columns.AnswerColumns[0].Index
	block, err := r.store.GetRange(ctx, core.ColumnRange(src, layout.WorkRows.Start, layout.WorkRows.End))
	if err != nil {
		return nil, fmt.Errorf("reading source column of %s: %w", g.ID, err)
	}
	var cells []core.CellRef
	for i, vals := range block {
		if core.HasAnswer(vals[0]) {
			cells = append(cells, core.Cell(layout.WorkRows.Start+i, out))
		}
	}
	return cells, nil
}

// reconcile re-reads the group's output cells. Answered cells leave the
// ledger; empty cells, stale foreign markers and our own abandoned markers
// are recorded as empty. Cells held by another identity's active lease are
// returned for waiting.
func (r *run) reconcile(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.CellRef, error) {
	cells, err := r.reconcileCells(ctx, layout, g)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	values, err := r.store.BatchGet(ctx, cells)
	if err != nil {
		return nil, fmt.Errorf("reconciling %s: %w", g.ID, err)
	}

	var empties, waiting []core.CellRef
	for _, ref := range cells {
		v := values[ref]
		if core.HasAnswer(v) {
			r.retries.ClearCell(g.ID, ref)
			continue
		}
		view := r.leases.Inspect(v)
		switch {
		case view.Active():
			waiting = append(waiting, ref)
		case view.Own && r.inflight.Has(ref):
		default:
			empties = append(empties, ref)
		}
	}
	if err := r.recordEmpty(ctx, layout, g, empties); err != nil {
		return nil, err
	}
	return waiting, nil
}

func (r *run) recordEmpty(ctx context.Context, layout *core.Layout, g *core.TaskGroup, cells []core.CellRef) error {
	if len(cells) == 0 {
		return nil
	}
	if g.Type.Special() {
		tasks, err := r.sideEffectTasks(ctx, layout, g, cells)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			r.retries.RecordEmpty(g.ID, t)
		}
		return nil
	}
	tasks, err := r.gen.Rebuild(ctx, r.store, layout, g, cells)
	if err != nil {
		return err
	}
	for _, ref := range cells {
		if t, ok := tasks[ref]; ok {
			r.retries.RecordEmpty(g.ID, t)
		}
	}
	return nil
}

// waitForeign polls cells held by other identities until each is answered,
// released or stale, or until the lease wait timeout passes.
func (r *run) waitForeign(ctx context.Context, layout *core.Layout, g *core.TaskGroup, cells []core.CellRef) error {
	log := r.logger.WithTaskGroup(g.ID)
	start := r.s.deps.Now()
	for len(cells) > 0 {
		if r.opts.LeaseWaitTimeout > 0 && r.s.deps.Now().Sub(start) >= r.opts.LeaseWaitTimeout {
			log.Warn("gave up waiting on foreign leases", "cells", len(cells), "waited", r.opts.LeaseWaitTimeout)
			return nil
		}
		log.Info("waiting on cells leased by other workers", "cells", len(cells), "poll", r.opts.PollInterval)
		if err := r.ctrl.Sleep(ctx, r.opts.PollInterval); err != nil {
			return err
		}
		values, err := r.store.BatchGet(ctx, cells)
		if err != nil {
			return fmt.Errorf("polling leased cells of %s: %w", g.ID, err)
		}
		var still, released []core.CellRef
		for _, ref := range cells {
			v := values[ref]
			switch {
			case core.HasAnswer(v):
				r.retries.ClearCell(g.ID, ref)
			case r.leases.Inspect(v).Active():
				still = append(still, ref)
			default:
				released = append(released, ref)
			}
		}
		if err := r.recordEmpty(ctx, layout, g, released); err != nil {
			return err
		}
		cells = still
	}
	return nil
}

func dedupCells(cells []core.CellRef) []core.CellRef {
	seen := make(map[core.CellRef]bool, len(cells))
	out := cells[:0]
	for _, c := range cells {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Col != out[j].Col {
			return out[i].Col < out[j].Col
		}
		return out[i].Row < out[j].Row
	})
	return out
}
