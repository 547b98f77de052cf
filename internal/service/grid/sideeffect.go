package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// errNoProducer is returned when a report or side-effect group is scheduled
// without a producer configured.
var errNoProducer = errors.New("no side-effect producer configured")

// sideEffectTasks returns one task per row whose source answer is present
// and whose output cell is still open. When only is non-empty just those
// cells are considered and the seen set is ignored.
func (r *run) sideEffectTasks(ctx context.Context, layout *core.Layout, g *core.TaskGroup, only []core.CellRef) ([]core.Task, error) {
	out := g.Columns.AnswerColumns[0].Index
	src := sourceColumn(g)
	if src < 0 || layout.WorkRows.Empty() {
		return nil, nil
	}
	rows := layout.WorkRows
	block, err := r.store.GetRange(ctx, core.RangeRef{StartRow: rows.Start, StartCol: src, EndRow: rows.End, EndCol: out})
	if err != nil {
		return nil, fmt.Errorf("reading side-effect cells of %s: %w", g.ID, err)
	}
	var want map[core.CellRef]bool
	if len(only) > 0 {
		want = make(map[core.CellRef]bool, len(only))
		for _, c := range only {
			want[c] = true
		}
	}

	self := r.leases.Identity()
	var tasks []core.Task
	for i, vals := range block {
		ref := core.Cell(rows.Start+i, out)
		source, current := vals[0], vals[len(vals)-1]
		if !core.HasAnswer(source) {
			continue
		}
		if want != nil {
			if !want[ref] {
				continue
			}
		} else if r.gen.seen.Has(ref) || core.HasAnswer(current) || r.leases.IsClaimedByOther(current, self) {
			continue
		}
		tasks = append(tasks, core.Task{
			ID:          core.NewTaskID(),
			GroupID:     g.ID,
			Row:         ref.Row,
			Column:      core.ColumnLetter(out),
			ColumnIndex: out,
			PromptText:  strings.TrimSpace(source),
			CreatedAt:   r.s.deps.Now(),
			Kind:        core.TaskKindDependent,
			FeatureHint: string(g.Type),
		})
	}
	return tasks, nil
}

// runSideEffects handles report and side-effect groups row by row.
func (r *run) runSideEffects(ctx context.Context, layout *core.Layout, g *core.TaskGroup) ([]core.TaskOutcome, error) {
	log := r.logger.WithTaskGroup(g.ID)
	tasks, err := r.sideEffectTasks(ctx, layout, g, nil)
	if err != nil {
		log.Warn("scan failed, leaving rows to reconciliation", "error", err)
		return nil, nil
	}
	if r.ro.TestMode && len(tasks) > r.opts.BatchSize {
		tasks = tasks[:r.opts.BatchSize]
	}
	r.phase(PhaseDispatching)
	var outcomes []core.TaskOutcome
	for _, t := range tasks {
		if err := r.checkpoint(ctx); err != nil {
			return outcomes, err
		}
		if !r.gen.seen.Add(t.Cell()) {
			continue
		}
		outcomes = append(outcomes, r.produce(ctx, g, t))
	}
	return outcomes, nil
}

// skipUnserved records a report or side-effect group that has no producer:
// its pending rows count as skipped and the group carries the reason.
func (r *run) skipUnserved(ctx context.Context, layout *core.Layout, g *core.TaskGroup, gr *GroupResult) {
	gr.SkipReason = errNoProducer.Error()
	log := r.logger.WithTaskGroup(g.ID)
	tasks, err := r.sideEffectTasks(ctx, layout, g, nil)
	if err != nil {
		log.Warn("scan failed while skipping group", "error", err)
	}
	gr.Skipped = len(tasks)
	r.mu.Lock()
	r.skipped += len(tasks)
	r.mu.Unlock()
	log.Warn("group skipped", "reason", gr.SkipReason, "pending", len(tasks))
}

// produce claims the output cell, runs the producer on the source answer
// and writes the artifact reference back.
func (r *run) produce(ctx context.Context, g *core.TaskGroup, t core.Task) core.TaskOutcome {
	start := r.s.deps.Now()
	ref := t.Cell()
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
		return r.finish(g, t, core.TaskStatusClaimDenied, "", core.ErrClaimDenied(ref, string(claim)), start)
	}

	r.inflight.Add(ref)
	defer r.inflight.Remove(ref)

	res, err := r.producer.Produce(ctx, core.SideEffectRequest{
		GroupID:    g.ID,
		GroupType:  g.Type,
		Row:        t.Row,
		SourceCell: core.Cell(t.Row, sourceColumn(g)),
		SourceText: t.PromptText,
	})
	if err != nil || res == nil || !res.Success {
		if err == nil {
			msg := "producer reported failure"
			if res != nil && res.Error != "" {
				msg = res.Error
			}
			err = errors.New(msg)
		}
		return r.abandon(ctx, g, t, err, start)
	}
	if err := r.leases.Release(ctx, ref, res.ResultRef); err != nil {
		r.retries.RecordResponseFailure(g.ID, t)
		return r.finish(g, t, core.TaskStatusResponseFailed, res.ResultRef, err, start)
	}
	if !core.HasAnswer(res.ResultRef) {
		return r.finish(g, t, core.TaskStatusEmpty, res.ResultRef, core.ErrEmptyResult(ref), start)
	}
	return r.finish(g, t, core.TaskStatusCompleted, res.ResultRef, nil, start)
}
