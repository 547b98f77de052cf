package cli

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// echoWorker answers every task with its own prompt. Test mode routes all
// kinds here so a run never leaves the machine.
type echoWorker struct {
	kind core.WorkerKind
}

// NewEchoWorker returns an echo handle reporting the given kind.
func NewEchoWorker(kind core.WorkerKind) core.Worker {
	if kind == "" {
		kind = core.WorkerEcho
	}
	return &echoWorker{kind: kind}
}

func (w *echoWorker) Kind() core.WorkerKind { return w.kind }

func (w *echoWorker) Dispatch(ctx context.Context, task core.Task) (*core.DispatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled("dispatch cancelled").WithCause(err)
	}
	start := time.Now()
	return &core.DispatchResult{
		Success:  true,
		Output:   task.PromptText,
		Model:    "echo",
		Duration: time.Since(start),
	}, nil
}

func (w *echoWorker) Close() error { return nil }
