package core

import (
	"context"
	"time"
)

// =============================================================================
// TabularStore Port
// =============================================================================

// TabularStore is the shared document every cooperating process reads and writes.
// All writes issued by the scheduler are idempotent single-cell overwrites.
type TabularStore interface {
	// GetRange returns the values of a block of cells. Rows and columns outside
	// the stored extent come back as empty strings; the result always has
	// ref.Rows() rows of ref.Cols() values.
	GetRange(ctx context.Context, ref RangeRef) ([][]string, error)

	// BatchGet returns the values of individual cells in one round-trip.
	// Absent cells map to "".
	BatchGet(ctx context.Context, refs []CellRef) (map[CellRef]string, error)

	// SetCell overwrites a single cell.
	SetCell(ctx context.Context, ref CellRef, value string) error

	// BatchUpdate applies row/column inserts, deletes and cell writes in order.
	BatchUpdate(ctx context.Context, reqs []UpdateRequest) error

	// Dimensions returns the number of rows and columns holding data.
	Dimensions(ctx context.Context) (rows, cols int, err error)
}

// =============================================================================
// Worker Port
// =============================================================================

// DispatchResult is what a worker reports for one task.
type DispatchResult struct {
	Success  bool
	Output   string
	Error    string
	Model    string
	Duration time.Duration
}

// Worker is an open handle on one AI worker of a given kind.
type Worker interface {
	// Kind returns the worker kind this handle serves.
	Kind() WorkerKind

	// Dispatch runs the task and returns once the worker reports a final result.
	Dispatch(ctx context.Context, task Task) (*DispatchResult, error)

	// Close releases the handle.
	Close() error
}

// WorkerFactory opens worker handles by kind.
type WorkerFactory interface {
	Open(ctx context.Context, kind WorkerKind) (Worker, error)
}

// =============================================================================
// SideEffectProducer Port
// =============================================================================

// SideEffectRequest describes one row handled by a report/sideEffect group.
type SideEffectRequest struct {
	GroupID    string
	GroupType  GroupType
	Row        int
	SourceCell CellRef
	SourceText string
}

// SideEffectResult reports the produced artifact.
type SideEffectResult struct {
	Success   bool
	ResultRef string
	Error     string
}

// SideEffectProducer turns an answer into an external artifact.
type SideEffectProducer interface {
	Produce(ctx context.Context, req SideEffectRequest) (*SideEffectResult, error)
}
