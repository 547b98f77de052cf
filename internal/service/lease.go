package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// DefaultLeaseDuration bounds how long a lease stays active when its
// function has no specific limit.
const DefaultLeaseDuration = 10 * time.Minute

// NewIdentity returns a process identity of the form <hostname>-<uuid prefix>.
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "qgrid"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// LeaseConfig configures a LeaseManager.
type LeaseConfig struct {
	Identity             string
	DefaultMaxDuration   time.Duration
	FunctionMaxDurations map[string]time.Duration
	WritePolicy          *RetryPolicy
	Now                  func() time.Time
	Logger               *logging.Logger
}

// ClaimOutcome explains a claim attempt.
type ClaimOutcome string

const (
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimReclaimed means a stale foreign lease was overwritten.
	ClaimReclaimed ClaimOutcome = "reclaimed"
	ClaimAnswered  ClaimOutcome = "answered"
	ClaimHeld      ClaimOutcome = "held"
	// ClaimLostRace means another identity overwrote our marker before read-back.
	ClaimLostRace ClaimOutcome = "lost_race"
)

// Granted reports whether the caller now owns the cell.
func (o ClaimOutcome) Granted() bool {
	return o == ClaimAcquired || o == ClaimReclaimed
}

// LeaseManager writes and inspects lease markers in answer cells. It is a
// best-effort lease: two identities can both win in the write/read-back gap,
// and the final answer write is an idempotent overwrite.
type LeaseManager struct {
	store       core.TabularStore
	identity    string
	defaultMax  time.Duration
	functionMax map[string]time.Duration
	write       *RetryPolicy
	now         func() time.Time
	logger      *logging.Logger
}

// NewLeaseManager creates a lease manager bound to a store.
func NewLeaseManager(store core.TabularStore, cfg LeaseConfig) *LeaseManager {
	if cfg.Identity == "" {
		cfg.Identity = NewIdentity()
	}
	if cfg.DefaultMaxDuration <= 0 {
		cfg.DefaultMaxDuration = DefaultLeaseDuration
	}
	if cfg.WritePolicy == nil {
		cfg.WritePolicy = DefaultRetryPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	fm := make(map[string]time.Duration, len(cfg.FunctionMaxDurations))
	for k, v := range cfg.FunctionMaxDurations {
		fm[normalizeFunction(k)] = v
	}
	return &LeaseManager{
		store:       store,
		identity:    cfg.Identity,
		defaultMax:  cfg.DefaultMaxDuration,
		functionMax: fm,
		write:       cfg.WritePolicy,
		now:         cfg.Now,
		logger:      cfg.Logger.WithComponent("lease"),
	}
}

func normalizeFunction(fn string) string {
	return strings.ToLower(strings.TrimSpace(fn))
}

// Identity returns this process's worker identity.
func (m *LeaseManager) Identity() string {
	return m.identity
}

// MaxDuration returns how long a lease for the given function stays active.
func (m *LeaseManager) MaxDuration(function string) time.Duration {
	fn := normalizeFunction(function)
	if fn == "" {
		return m.defaultMax
	}
	if d, ok := m.functionMax[fn]; ok {
		return d
	}
	for name, d := range m.functionMax {
		if strings.Contains(fn, name) {
			return d
		}
	}
	return m.defaultMax
}

// LeaseView is the interpretation of one cell value.
type LeaseView struct {
	Marker  core.LeaseMarker
	IsLease bool
	Own     bool
	Stale   bool
}

// Active reports whether the cell is held by another identity.
func (v LeaseView) Active() bool {
	return v.IsLease && !v.Own && !v.Stale
}

// Inspect decodes a cell value relative to this identity.
func (m *LeaseManager) Inspect(value string) LeaseView {
	marker, ok := core.DecodeLeaseMarker(value)
	if !ok {
		return LeaseView{}
	}
	return LeaseView{
		Marker:  marker,
		IsLease: true,
		Own:     marker.WorkerID == m.identity,
		Stale:   m.IsStale(marker),
	}
}

// IsStale reports whether a marker is older than its function's max duration.
func (m *LeaseManager) IsStale(marker core.LeaseMarker) bool {
	return marker.Age(m.now()) >= m.MaxDuration(marker.Function)
}

// IsClaimedByOther reports whether value is an active lease held by an
// identity other than self. An identity never blocks on its own marker.
func (m *LeaseManager) IsClaimedByOther(value, self string) bool {
	marker, ok := core.DecodeLeaseMarker(value)
	if !ok || marker.WorkerID == self {
		return false
	}
	return !m.IsStale(marker)
}

// TryClaim writes this identity's marker into ref and reports whether the
// claim held after read-back.
func (m *LeaseManager) TryClaim(ctx context.Context, ref core.CellRef, function string) (bool, error) {
	outcome, err := m.Claim(ctx, ref, function)
	if err != nil {
		return false, err
	}
	return outcome.Granted(), nil
}

// Claim is TryClaim with the reason for the decision.
func (m *LeaseManager) Claim(ctx context.Context, ref core.CellRef, function string) (ClaimOutcome, error) {
	current, err := m.read(ctx, ref)
	if err != nil {
		return "", err
	}
	if core.HasAnswer(current) {
		return ClaimAnswered, nil
	}

	view := m.Inspect(current)
	if view.Active() {
		m.logger.Debug("cell held by another identity",
			"cell", ref.String(), "owner", view.Marker.WorkerID, "age", view.Marker.Age(m.now()))
		return ClaimHeld, nil
	}
	outcome := ClaimAcquired
	if view.IsLease && !view.Own && view.Stale {
		outcome = ClaimReclaimed
		m.logger.Warn("reclaiming stale lease",
			"cell", ref.String(), "owner", view.Marker.WorkerID, "age", view.Marker.Age(m.now()))
	}

	marker := core.LeaseMarker{Timestamp: m.now().UTC(), WorkerID: m.identity, Function: function}
	encoded := marker.Encode()
	if err := m.set(ctx, ref, encoded); err != nil {
		return "", err
	}

	back, err := m.read(ctx, ref)
	if err != nil {
		return "", err
	}
	if back != encoded {
		if core.HasAnswer(back) {
			return ClaimAnswered, nil
		}
		m.logger.Debug("lost claim race", "cell", ref.String(), "value", back)
		return ClaimLostRace, nil
	}
	return outcome, nil
}

// Release overwrites the cell with its final value.
func (m *LeaseManager) Release(ctx context.Context, ref core.CellRef, finalValue string) error {
	if err := m.set(ctx, ref, finalValue); err != nil {
		return core.ErrWriteBack(ref, err)
	}
	return nil
}

func (m *LeaseManager) read(ctx context.Context, ref core.CellRef) (string, error) {
	var value string
	err := m.write.Execute(ctx, func(ctx context.Context) error {
		vals, err := m.store.BatchGet(ctx, []core.CellRef{ref})
		if err != nil {
			return err
		}
		value = vals[ref]
		return nil
	})
	return value, err
}

func (m *LeaseManager) set(ctx context.Context, ref core.CellRef, value string) error {
	return m.write.Execute(ctx, func(ctx context.Context) error {
		return m.store.SetCell(ctx, ref, value)
	})
}
