// Package control lets operators pause, resume and stop a running scheduler.
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// ControlPlane carries operator signals into the scheduler loop.
type ControlPlane struct {
	mu       sync.RWMutex
	paused   atomic.Bool
	stopped  atomic.Bool
	pauseCh  chan struct{}
	resumeCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new ControlPlane.
func New() *ControlPlane {
	return &ControlPlane{
		pauseCh:  make(chan struct{}),
		resumeCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Pause stops new groups and batches from starting.
// Tasks already dispatched run to completion.
func (cp *ControlPlane) Pause() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.paused.Load() {
		cp.paused.Store(true)
		close(cp.pauseCh)
		cp.pauseCh = make(chan struct{})
	}
}

// Resume resumes a paused run.
func (cp *ControlPlane) Resume() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.paused.Load() {
		cp.paused.Store(false)
		close(cp.resumeCh)
		cp.resumeCh = make(chan struct{})
	}
}

// Stop requests the scheduler to exit at the next check. It is idempotent.
func (cp *ControlPlane) Stop() {
	cp.stopOnce.Do(func() {
		cp.stopped.Store(true)
		close(cp.stopCh)
	})
}

// IsPaused returns true if the run is paused.
func (cp *ControlPlane) IsPaused() bool {
	return cp.paused.Load()
}

// IsStopped returns true once Stop has been called.
func (cp *ControlPlane) IsStopped() bool {
	return cp.stopped.Load()
}

// Done returns a channel closed when Stop is called.
func (cp *ControlPlane) Done() <-chan struct{} {
	return cp.stopCh
}

// WaitIfPaused blocks until the run is resumed or stopped.
// Returns immediately if not paused.
func (cp *ControlPlane) WaitIfPaused(ctx context.Context) error {
	if !cp.paused.Load() {
		return nil
	}

	cp.mu.RLock()
	resumeCh := cp.resumeCh
	cp.mu.RUnlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cp.stopCh:
		return nil
	case <-resumeCh:
		return nil
	}
}

// CheckStopped returns an error if Stop has been called.
func (cp *ControlPlane) CheckStopped() error {
	if cp.stopped.Load() {
		return core.ErrCancelled("run stopped by operator")
	}
	return nil
}

// Sleep waits for d, returning early with an error when ctx ends or Stop is called.
func (cp *ControlPlane) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return cp.CheckStopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cp.stopCh:
		return cp.CheckStopped()
	case <-timer.C:
		return nil
	}
}

// PausedCh returns a channel that's closed when paused.
func (cp *ControlPlane) PausedCh() <-chan struct{} {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.paused.Load() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return cp.pauseCh
}

// Status returns the current control status.
type Status struct {
	Paused  bool `json:"paused"`
	Stopped bool `json:"stopped"`
}

func (cp *ControlPlane) Status() Status {
	return Status{
		Paused:  cp.paused.Load(),
		Stopped: cp.stopped.Load(),
	}
}
