package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLeaseManager(s core.TabularStore, identity string, clock *fakeClock) *LeaseManager {
	return NewLeaseManager(s, LeaseConfig{
		Identity:             identity,
		DefaultMaxDuration:   10 * time.Minute,
		FunctionMaxDurations: map[string]time.Duration{"Deep Research": 40 * time.Minute},
		WritePolicy:          NewRetryPolicy(WithMaxAttempts(1)),
		Now:                  clock.Now,
	})
}

func TestLeaseManager_AtMostOneClaim(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore()
	a := newLeaseManager(s, "host-a", clock)
	b := newLeaseManager(s, "host-b", clock)
	ctx := context.Background()
	cell := core.Cell(4, 3)

	ok, err := a.TryClaim(ctx, cell, "")
	require.NoError(t, err)
	require.True(t, ok)

	vals, _ := s.BatchGet(ctx, []core.CellRef{cell})
	marker := vals[cell]
	assert.True(t, b.IsClaimedByOther(marker, b.Identity()))
	assert.False(t, a.IsClaimedByOther(marker, a.Identity()), "never blocked by own marker")
	assert.False(t, core.HasAnswer(marker))

	ok, err = b.TryClaim(ctx, cell, "")
	require.NoError(t, err)
	assert.False(t, ok)

	// Still held just before expiry.
	clock.Advance(9 * time.Minute)
	assert.True(t, b.IsClaimedByOther(marker, b.Identity()))

	// Stale after the max duration: b reclaims.
	clock.Advance(time.Minute)
	assert.False(t, b.IsClaimedByOther(marker, b.Identity()))
	outcome, err := b.Claim(ctx, cell, "")
	require.NoError(t, err)
	assert.Equal(t, ClaimReclaimed, outcome)
}

func TestLeaseManager_ReleaseEndsLease(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := store.NewMemoryStore()
	a := newLeaseManager(s, "host-a", clock)
	b := newLeaseManager(s, "host-b", clock)
	ctx := context.Background()
	cell := core.Cell(4, 3)

	ok, err := a.TryClaim(ctx, cell, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.Release(ctx, cell, "the answer"))

	outcome, err := b.Claim(ctx, cell, "")
	require.NoError(t, err)
	assert.Equal(t, ClaimAnswered, outcome)
}

func TestLeaseManager_FunctionDurations(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newLeaseManager(store.NewMemoryStore(), "host-a", clock)

	assert.Equal(t, 40*time.Minute, m.MaxDuration("deep research"))
	assert.Equal(t, 40*time.Minute, m.MaxDuration("Deep Research (long)"))
	assert.Equal(t, 10*time.Minute, m.MaxDuration("normal"))
	assert.Equal(t, 10*time.Minute, m.MaxDuration(""))

	marker := core.LeaseMarker{Timestamp: clock.Now().Add(-20 * time.Minute), WorkerID: "host-b", Function: "deep research"}
	assert.True(t, m.IsClaimedByOther(marker.Encode(), m.Identity()), "long function lease still active")
	marker.Function = ""
	assert.False(t, m.IsClaimedByOther(marker.Encode(), m.Identity()))
}

func TestLeaseManager_OwnMarkerIsReclaimable(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := store.NewMemoryStore()
	a := newLeaseManager(s, "host-a", clock)
	ctx := context.Background()
	cell := core.Cell(2, 2)

	require.NoError(t, s.SetCell(ctx, cell, core.LeaseMarker{Timestamp: clock.Now(), WorkerID: "host-a"}.Encode()))
	outcome, err := a.Claim(ctx, cell, "")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, outcome)

	view := a.Inspect(core.LeaseMarker{Timestamp: clock.Now(), WorkerID: "host-a"}.Encode())
	assert.True(t, view.Own)
	assert.False(t, view.Active())
}

// racingStore lets another identity overwrite the cell right after our write.
type racingStore struct {
	*store.MemoryStore
	rival string
}

func (r *racingStore) SetCell(ctx context.Context, ref core.CellRef, value string) error {
	if err := r.MemoryStore.SetCell(ctx, ref, value); err != nil {
		return err
	}
	if strings.HasPrefix(value, core.LeaseMarkerPrefix) {
		return r.MemoryStore.SetCell(ctx, ref, r.rival)
	}
	return nil
}

func TestLeaseManager_LostRace(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	rival := core.LeaseMarker{Timestamp: clock.Now(), WorkerID: "host-b"}.Encode()
	s := &racingStore{MemoryStore: store.NewMemoryStore(), rival: rival}
	a := newLeaseManager(s, "host-a", clock)

	outcome, err := a.Claim(context.Background(), core.Cell(4, 3), "")
	require.NoError(t, err)
	assert.Equal(t, ClaimLostRace, outcome)
	assert.False(t, outcome.Granted())
}

func TestNewIdentity(t *testing.T) {
	a, b := NewIdentity(), NewIdentity()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}
