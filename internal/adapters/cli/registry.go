package cli

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

// AdapterFactory creates a worker handle from configuration.
type AdapterFactory func(cfg Config, logger *logging.Logger) core.Worker

// Registry opens worker handles by kind. It implements core.WorkerFactory;
// every Open returns a fresh handle so slots never share a process.
type Registry struct {
	factories map[core.WorkerKind]AdapterFactory
	configs   map[core.WorkerKind]Config
	disabled  map[core.WorkerKind]bool
	override  core.WorkerKind
	logger    *logging.Logger
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in worker kinds.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		factories: make(map[core.WorkerKind]AdapterFactory),
		configs:   make(map[core.WorkerKind]Config),
		disabled:  make(map[core.WorkerKind]bool),
		logger:    logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.RegisterFactory(core.WorkerChatGPT, NewChatGPTWorker)
	r.RegisterFactory(core.WorkerClaude, NewClaudeWorker)
	r.RegisterFactory(core.WorkerGemini, NewGeminiWorker)
	r.RegisterFactory(core.WorkerEcho, func(cfg Config, _ *logging.Logger) core.Worker {
		return NewEchoWorker(cfg.Kind)
	})
}

// RegisterFactory registers a factory for a worker kind.
func (r *Registry) RegisterFactory(kind core.WorkerKind, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Configure sets configuration for a worker kind.
func (r *Registry) Configure(kind core.WorkerKind, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.Kind = kind
	r.configs[kind] = cfg
}

// SetEnabled enables or disables a worker kind.
func (r *Registry) SetEnabled(kind core.WorkerKind, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, kind)
	} else {
		r.disabled[kind] = true
	}
}

// RouteAllTo makes every Open use the factory of target while the handle
// still reports the requested kind. An empty target clears the override.
func (r *Registry) RouteAllTo(target core.WorkerKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = target
}

// Open returns a new handle for kind.
func (r *Registry) Open(ctx context.Context, kind core.WorkerKind) (core.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled("open cancelled").WithCause(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.disabled[kind] && r.override == "" {
		return nil, core.ErrValidation(core.CodeUnknownKind,
			fmt.Sprintf("worker kind %q is disabled", kind))
	}
	if _, ok := r.factories[kind]; !ok {
		return nil, core.ErrValidation(core.CodeUnknownKind,
			fmt.Sprintf("unknown worker kind %q", kind))
	}

	source := kind
	if r.override != "" {
		source = r.override
	}
	factory, ok := r.factories[source]
	if !ok {
		return nil, core.ErrNotFound("worker factory", string(source))
	}
	cfg, ok := r.configs[source]
	if !ok {
		cfg = Config{}
	}
	cfg.Kind = kind

	r.logger.Debug("opening worker", "kind", kind, "adapter", source)
	return factory(cfg, r.logger), nil
}

// List returns the kinds that can be opened, sorted.
func (r *Registry) List() []core.WorkerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]core.WorkerKind, 0, len(r.factories))
	for kind := range r.factories {
		if !r.disabled[kind] {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Available reports which configured CLIs are installed.
func (r *Registry) Available() map[core.WorkerKind]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.WorkerKind]error)
	for _, kind := range core.KnownWorkerKinds() {
		if r.disabled[kind] {
			continue
		}
		cfg := r.configs[kind]
		cfg.Kind = kind
		if cfg.Path == "" {
			cfg.Path = defaultPath(kind)
		}
		out[kind] = NewBaseAdapter(cfg, r.logger).CheckAvailability()
	}
	return out
}

func defaultPath(kind core.WorkerKind) string {
	if kind == core.WorkerChatGPT {
		return "codex"
	}
	return string(kind)
}

// ConfigureFromConfig applies worker settings from the loaded config.
func ConfigureFromConfig(r *Registry, cfg config.WorkersConfig) {
	for name, wc := range cfg.ByKind() {
		kind := core.WorkerKind(name)
		r.Configure(kind, Config{
			Path:    wc.Path,
			Model:   wc.Model,
			Timeout: wc.Timeout,
		})
		r.SetEnabled(kind, wc.Enabled)
	}
}

// ApplyRateLimits installs per-kind token buckets from the worker config.
// Kinds without a rate keep the registry defaults.
func ApplyRateLimits(cfg config.WorkersConfig, limits *service.RateLimiterRegistry) {
	for name, wc := range cfg.ByKind() {
		if wc.RatePerSecond <= 0 {
			continue
		}
		burst := wc.Burst
		if burst < 1 {
			burst = 1
		}
		limits.SetConfig(core.WorkerKind(name), service.RateLimiterConfig{
			MaxTokens:  float64(burst),
			RefillRate: wc.RatePerSecond,
		})
	}
}

var _ core.WorkerFactory = (*Registry)(nil)
