package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

type callRecorder struct {
	mu    sync.Mutex
	calls []MockCall
}

func (r *callRecorder) record(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Args: args, Timestamp: time.Now()})
}

// Calls returns recorded calls.
func (r *callRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall{}, r.calls...)
}

// CallCount returns number of calls to a method.
func (r *callRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// DispatchFunc answers one task.
type DispatchFunc func(ctx context.Context, task core.Task) (*core.DispatchResult, error)

// MockWorker implements core.Worker for testing.
type MockWorker struct {
	callRecorder
	kind     core.WorkerKind
	dispatch DispatchFunc
	closed   bool
	closeErr error
}

// NewMockWorker creates a worker that answers "answer for <cell>".
func NewMockWorker(kind core.WorkerKind) *MockWorker {
	return &MockWorker{kind: kind}
}

// Kind returns the worker kind.
func (m *MockWorker) Kind() core.WorkerKind {
	return m.kind
}

// Dispatch records the task and runs the configured behaviour.
func (m *MockWorker) Dispatch(ctx context.Context, task core.Task) (*core.DispatchResult, error) {
	m.record("Dispatch", task)
	m.mu.Lock()
	fn := m.dispatch
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return &core.DispatchResult{
		Success: true,
		Output:  fmt.Sprintf("answer for %s by %s", task.Key(), m.kind),
	}, nil
}

// Close marks the worker closed.
func (m *MockWorker) Close() error {
	m.record("Close", nil)
	m.mu.Lock()
	m.closed = true
	err := m.closeErr
	m.mu.Unlock()
	return err
}

// WithCloseError makes Close fail with err.
func (m *MockWorker) WithCloseError(err error) *MockWorker {
	m.mu.Lock()
	m.closeErr = err
	m.mu.Unlock()
	return m
}

// Closed reports whether Close was called.
func (m *MockWorker) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// WithDispatchFunc sets a custom dispatch function.
func (m *MockWorker) WithDispatchFunc(fn DispatchFunc) *MockWorker {
	m.mu.Lock()
	m.dispatch = fn
	m.mu.Unlock()
	return m
}

// WithError configures the worker to fail every dispatch.
func (m *MockWorker) WithError(err error) *MockWorker {
	return m.WithDispatchFunc(func(context.Context, core.Task) (*core.DispatchResult, error) {
		return nil, err
	})
}

// WithResponse configures a fixed output.
func (m *MockWorker) WithResponse(output string) *MockWorker {
	return m.WithDispatchFunc(func(context.Context, core.Task) (*core.DispatchResult, error) {
		return &core.DispatchResult{Success: true, Output: output}, nil
	})
}

// MockFactory implements core.WorkerFactory. Every Open of a kind returns
// the same MockWorker so tests can inspect calls per kind.
type MockFactory struct {
	callRecorder
	workers map[core.WorkerKind]*MockWorker
	openErr error
}

// NewMockFactory creates a factory with default workers for every kind.
func NewMockFactory() *MockFactory {
	return &MockFactory{workers: make(map[core.WorkerKind]*MockWorker)}
}

// Worker returns the worker served for kind, creating it on first use.
func (f *MockFactory) Worker(kind core.WorkerKind) *MockWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[kind]
	if !ok {
		w = NewMockWorker(kind)
		f.workers[kind] = w
	}
	return w
}

// WithOpenError makes Open fail.
func (f *MockFactory) WithOpenError(err error) *MockFactory {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
	return f
}

// Open returns the worker for kind.
func (f *MockFactory) Open(_ context.Context, kind core.WorkerKind) (core.Worker, error) {
	f.record("Open", kind)
	f.mu.Lock()
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Worker(kind), nil
}

// Dispatched returns every task dispatched to any worker of the factory.
func (f *MockFactory) Dispatched() []core.Task {
	f.mu.Lock()
	workers := make([]*MockWorker, 0, len(f.workers))
	for _, w := range f.workers {
		workers = append(workers, w)
	}
	f.mu.Unlock()

	var out []core.Task
	for _, w := range workers {
		for _, c := range w.Calls() {
			if c.Method == "Dispatch" {
				out = append(out, c.Args.(core.Task))
			}
		}
	}
	return out
}

// ProduceFunc handles one side-effect request.
type ProduceFunc func(ctx context.Context, req core.SideEffectRequest) (*core.SideEffectResult, error)

// MockProducer implements core.SideEffectProducer.
type MockProducer struct {
	callRecorder
	produce ProduceFunc
}

// NewMockProducer creates a producer returning "report://<row>".
func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

// WithProduceFunc sets a custom produce function.
func (p *MockProducer) WithProduceFunc(fn ProduceFunc) *MockProducer {
	p.mu.Lock()
	p.produce = fn
	p.mu.Unlock()
	return p
}

// Produce records the request and runs the configured behaviour.
func (p *MockProducer) Produce(ctx context.Context, req core.SideEffectRequest) (*core.SideEffectResult, error) {
	p.record("Produce", req)
	p.mu.Lock()
	fn := p.produce
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &core.SideEffectResult{Success: true, ResultRef: fmt.Sprintf("report://%s/%d", req.GroupID, req.Row+1)}, nil
}
