package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
// A RefillRate of zero or less disables limiting.
type RateLimiterConfig struct {
	MaxTokens  float64
	RefillRate float64
}

// DefaultRateLimiterConfig returns default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  3,
		RefillRate: 0.5,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 1
	}
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.refillRate <= 0 {
			r.mu.Unlock()
			return nil
		}
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refillRate <= 0 {
		return true
	}
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// MaxTokens returns the maximum capacity.
func (r *RateLimiter) MaxTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxTokens
}

// RefillRate returns the current refill rate.
func (r *RateLimiter) RefillRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refillRate
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	if r.refillRate <= 0 {
		r.tokens = r.maxTokens
		return
	}
	r.tokens = minFloat(r.maxTokens, r.tokens+elapsed.Seconds()*r.refillRate)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimiterRegistry holds one limiter per worker kind, shared by all slots.
type RateLimiterRegistry struct {
	limiters map[core.WorkerKind]*RateLimiter
	configs  map[core.WorkerKind]RateLimiterConfig
	mu       sync.RWMutex
}

// NewRateLimiterRegistry creates a new registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[core.WorkerKind]*RateLimiter),
		configs:  defaultWorkerRateConfigs(),
	}
}

func defaultWorkerRateConfigs() map[core.WorkerKind]RateLimiterConfig {
	return map[core.WorkerKind]RateLimiterConfig{
		core.WorkerChatGPT: {MaxTokens: 3, RefillRate: 0.5},
		core.WorkerClaude:  {MaxTokens: 3, RefillRate: 0.5},
		core.WorkerGemini:  {MaxTokens: 3, RefillRate: 1},
		core.WorkerEcho:    {MaxTokens: 1, RefillRate: 0},
	}
}

// Get returns the rate limiter for a worker kind.
func (r *RateLimiterRegistry) Get(kind core.WorkerKind) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[kind]; ok {
		return limiter
	}
	cfg, ok := r.configs[kind]
	if !ok {
		cfg = DefaultRateLimiterConfig()
	}
	limiter := NewRateLimiter(cfg)
	r.limiters[kind] = limiter
	return limiter
}

// Wait blocks until the worker kind may receive another dispatch.
func (r *RateLimiterRegistry) Wait(ctx context.Context, kind core.WorkerKind) error {
	if err := r.Get(kind).Acquire(ctx); err != nil {
		return core.ErrRateLimit("waiting for " + string(kind) + " rate limit").WithCause(err)
	}
	return nil
}

// SetConfig replaces the configuration for a worker kind.
func (r *RateLimiterRegistry) SetConfig(kind core.WorkerKind, cfg RateLimiterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[kind] = cfg
	r.limiters[kind] = NewRateLimiter(cfg)
}

// RateLimiterStatus contains status information.
type RateLimiterStatus struct {
	Available  float64 `json:"available"`
	MaxTokens  float64 `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// Status returns limiter status for all kinds in use.
func (r *RateLimiterRegistry) Status() map[core.WorkerKind]RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[core.WorkerKind]RateLimiterStatus, len(r.limiters))
	for kind, limiter := range r.limiters {
		status[kind] = RateLimiterStatus{
			Available:  limiter.Available(),
			MaxTokens:  limiter.MaxTokens(),
			RefillRate: limiter.RefillRate(),
		}
	}
	return status
}

// List returns all configured kinds, sorted.
func (r *RateLimiterRegistry) List() []core.WorkerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]core.WorkerKind, 0, len(r.configs))
	for kind := range r.configs {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
