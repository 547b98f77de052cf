package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// Slot is one execution context of the pool, bound to at most one worker
// handle at a time.
type Slot struct {
	Position int

	factory   core.WorkerFactory
	mu        sync.Mutex
	worker    core.Worker
	current   *core.Task
	closeErrs []error
}

// Current returns the task the slot is running, if any.
func (s *Slot) Current() (core.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return core.Task{}, false
	}
	return *s.current, true
}

func (s *Slot) setCurrent(t *core.Task) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
}

// SlotPool is a fixed set of slots handed out through a buffered channel.
type SlotPool struct {
	slots    []*Slot
	free     chan *Slot
	active   atomic.Int32
	onActive func(active int)
}

// NewSlotPool creates a pool with capacity slots.
func NewSlotPool(capacity int, factory core.WorkerFactory) *SlotPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &SlotPool{
		slots: make([]*Slot, capacity),
		free:  make(chan *Slot, capacity),
	}
	for i := range p.slots {
		p.slots[i] = &Slot{Position: i, factory: factory}
		p.free <- p.slots[i]
	}
	return p
}

// OnActiveChange registers a callback invoked whenever the number of
// acquired slots changes.
func (p *SlotPool) OnActiveChange(fn func(active int)) {
	p.onActive = fn
}

// Capacity returns the number of slots.
func (p *SlotPool) Capacity() int {
	return len(p.slots)
}

// Active returns the number of acquired slots.
func (p *SlotPool) Active() int {
	return int(p.active.Load())
}

// Acquire blocks until a slot is free or ctx ends.
func (p *SlotPool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case s := <-p.free:
		p.notifyActive(p.active.Add(1))
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a slot to the pool.
func (p *SlotPool) Release(s *Slot) {
	s.setCurrent(nil)
	p.notifyActive(p.active.Add(-1))
	p.free <- s
}

func (p *SlotPool) notifyActive(n int32) {
	if p.onActive != nil {
		p.onActive(int(n))
	}
}

// Bind returns a worker of the given kind for the slot, reusing the bound
// handle when it already serves that kind.
func (s *Slot) Bind(ctx context.Context, kind core.WorkerKind) (core.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil && s.worker.Kind() == kind {
		return s.worker, nil
	}
	if s.worker != nil {
		if err := s.worker.Close(); err != nil {
			s.closeErrs = append(s.closeErrs, fmt.Errorf("closing %s worker for slot %d: %w", s.worker.Kind(), s.Position, err))
		}
		s.worker = nil
	}
	w, err := s.factory.Open(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("opening %s worker for slot %d: %w", kind, s.Position, err)
	}
	s.worker = w
	return w, nil
}

// Close closes every bound worker handle. The error also carries close
// failures of handles replaced by Bind.
func (p *SlotPool) Close() error {
	var errs []error
	for _, s := range p.slots {
		s.mu.Lock()
		errs = append(errs, s.closeErrs...)
		s.closeErrs = nil
		if s.worker != nil {
			if err := s.worker.Close(); err != nil {
				errs = append(errs, err)
			}
			s.worker = nil
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// TaskFunc runs one task on an acquired slot.
type TaskFunc func(ctx context.Context, slot *Slot, task core.Task) core.TaskOutcome

// RunBatch runs every task on the pool and waits for all of them. One
// failure never aborts the others; outcomes are returned in task order.
func (p *SlotPool) RunBatch(ctx context.Context, tasks []core.Task, fn TaskFunc) []core.TaskOutcome {
	outcomes := make([]core.TaskOutcome, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = p.runOne(ctx, t, fn)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *SlotPool) runOne(ctx context.Context, t core.Task, fn TaskFunc) core.TaskOutcome {
	s, err := p.Acquire(ctx)
	if err != nil {
		return core.TaskOutcome{Task: t, Status: core.TaskStatusFailed, Err: err, Slot: -1}
	}
	defer p.Release(s)
	s.setCurrent(&t)
	o := fn(ctx, s, t)
	o.Slot = s.Position
	return o
}

// LaneFunc processes one lane sequentially on a dedicated slot.
type LaneFunc func(ctx context.Context, slot *Slot, lane int) []core.TaskOutcome

// RunLanes gives each of n lanes its own slot for its whole duration and
// waits for all lanes. Lanes beyond capacity wait for a slot to free up.
func (p *SlotPool) RunLanes(ctx context.Context, n int, fn LaneFunc) []core.TaskOutcome {
	results := make([][]core.TaskOutcome, n)
	var g errgroup.Group
	for lane := 0; lane < n; lane++ {
		g.Go(func() error {
			s, err := p.Acquire(ctx)
			if err != nil {
				return nil
			}
			defer p.Release(s)
			results[lane] = fn(ctx, s, lane)
			return nil
		})
	}
	_ = g.Wait()

	var out []core.TaskOutcome
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
