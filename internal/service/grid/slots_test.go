package grid

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/testutil"
)

func slotTasks(n int) []core.Task {
	tasks := make([]core.Task, n)
	for i := range tasks {
		tasks[i] = core.Task{ID: core.TaskID(fmt.Sprintf("t%d", i)), Row: i, ColumnIndex: 2, WorkerKind: core.WorkerClaude}
	}
	return tasks
}

func TestSlotPool_RunBatchBoundsConcurrency(t *testing.T) {
	pool := NewSlotPool(3, testutil.NewMockFactory())
	var running, peak atomic.Int32
	var changes []int
	var mu sync.Mutex
	pool.OnActiveChange(func(n int) {
		mu.Lock()
		changes = append(changes, n)
		mu.Unlock()
	})

	outcomes := pool.RunBatch(context.Background(), slotTasks(8), func(ctx context.Context, slot *Slot, task core.Task) core.TaskOutcome {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		cur, ok := slot.Current()
		assert.True(t, ok)
		assert.Equal(t, task.ID, cur.ID)
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return core.TaskOutcome{Task: task, Status: core.TaskStatusCompleted}
	})

	require.Len(t, outcomes, 8)
	for i, o := range outcomes {
		assert.Equal(t, core.TaskID(fmt.Sprintf("t%d", i)), o.Task.ID, "outcomes keep task order")
		assert.GreaterOrEqual(t, o.Slot, 0)
		assert.Less(t, o.Slot, 3)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, pool.Active())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, changes, 16)
	for _, n := range changes {
		assert.LessOrEqual(t, n, 3)
	}
}

func TestSlotPool_FailureDoesNotAbortBatch(t *testing.T) {
	pool := NewSlotPool(2, testutil.NewMockFactory())
	outcomes := pool.RunBatch(context.Background(), slotTasks(4), func(ctx context.Context, slot *Slot, task core.Task) core.TaskOutcome {
		if task.Row == 1 {
			return core.TaskOutcome{Task: task, Status: core.TaskStatusFailed, Err: testutil.ErrTest}
		}
		return core.TaskOutcome{Task: task, Status: core.TaskStatusCompleted}
	})
	require.Len(t, outcomes, 4)
	assert.Equal(t, core.TaskStatusCompleted, outcomes[0].Status)
	assert.Equal(t, core.TaskStatusFailed, outcomes[1].Status)
	assert.Equal(t, core.TaskStatusCompleted, outcomes[2].Status)
	assert.Equal(t, core.TaskStatusCompleted, outcomes[3].Status)
}

func TestSlotPool_RunBatchCancelled(t *testing.T) {
	pool := NewSlotPool(1, testutil.NewMockFactory())
	ctx, cancel := context.WithCancel(context.Background())
	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)
	cancel()

	outcomes := pool.RunBatch(ctx, slotTasks(2), func(ctx context.Context, slot *Slot, task core.Task) core.TaskOutcome {
		t.Error("task must not run without a slot")
		return core.TaskOutcome{}
	})
	for _, o := range outcomes {
		assert.Equal(t, core.TaskStatusFailed, o.Status)
		assert.Equal(t, -1, o.Slot)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	pool.Release(slot)
	assert.Equal(t, 0, pool.Active())
}

func TestSlotPool_RunLanesConcurrently(t *testing.T) {
	pool := NewSlotPool(4, testutil.NewMockFactory())
	var arrived sync.WaitGroup
	arrived.Add(3)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	outcomes := pool.RunLanes(context.Background(), 3, func(ctx context.Context, slot *Slot, lane int) []core.TaskOutcome {
		arrived.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			t.Errorf("lane %d never saw the other lanes running", lane)
		}
		return []core.TaskOutcome{{Task: core.Task{Row: lane}, Status: core.TaskStatusCompleted, Slot: slot.Position}}
	})

	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Task.Row, "lane results are concatenated in lane order")
	}
}

func TestSlot_BindReusesHandle(t *testing.T) {
	factory := testutil.NewMockFactory()
	pool := NewSlotPool(1, factory)
	ctx := context.Background()
	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(slot)

	w1, err := slot.Bind(ctx, core.WorkerClaude)
	require.NoError(t, err)
	w2, err := slot.Bind(ctx, core.WorkerClaude)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.Equal(t, 1, factory.CallCount("Open"))

	w3, err := slot.Bind(ctx, core.WorkerGemini)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerGemini, w3.Kind())
	assert.True(t, factory.Worker(core.WorkerClaude).Closed(), "previous handle is closed on kind change")
	assert.Equal(t, 2, factory.CallCount("Open"))

	require.NoError(t, pool.Close())
	assert.True(t, factory.Worker(core.WorkerGemini).Closed())
}

func TestSlot_RebindCloseErrorReportedOnPoolClose(t *testing.T) {
	factory := testutil.NewMockFactory()
	factory.Worker(core.WorkerClaude).WithCloseError(testutil.ErrTest)
	pool := NewSlotPool(1, factory)
	ctx := context.Background()
	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = slot.Bind(ctx, core.WorkerClaude)
	require.NoError(t, err)
	_, err = slot.Bind(ctx, core.WorkerGemini)
	require.NoError(t, err, "a failed close does not block the new handle")
	pool.Release(slot)

	err = pool.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrTest)
	assert.Contains(t, err.Error(), "closing claude worker for slot 0")
	assert.True(t, factory.Worker(core.WorkerGemini).Closed())

	assert.NoError(t, pool.Close(), "errors are reported once")
}

func TestSlot_BindOpenError(t *testing.T) {
	factory := testutil.NewMockFactory().WithOpenError(testutil.ErrTest)
	pool := NewSlotPool(1, factory)
	slot, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(slot)

	_, err = slot.Bind(context.Background(), core.WorkerChatGPT)
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrTest)
	assert.Contains(t, err.Error(), "slot 0")
}

func TestSlotPool_AcquireCancelled(t *testing.T) {
	pool := NewSlotPool(1, testutil.NewMockFactory())
	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(held)
	assert.Equal(t, 1, pool.Capacity())
}
