// Package edge is the request pipeline: it resolves environment, brand and
// page, gates the action, selects and invokes a backend and writes the
// response envelope.
package edge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/envelope"
	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
	"github.com/zeventbooks/eventangle-edge/internal/metrics"
	"github.com/zeventbooks/eventangle-edge/internal/ratelimit"
	"github.com/zeventbooks/eventangle-edge/internal/router"
)

// Options supplies collaborators. Zero values select the defaults.
type Options struct {
	// Handlers replaces the HTTP client of a backend kind.
	Handlers backend.Set
	// Snapshot captures the process environment at request entry.
	Snapshot envsnap.Source
	// Renderer answers page requests.
	Renderer Renderer
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	// Redis backs the shared payload cache when cache.type is redis.
	Redis *redis.Client
}

// Edge serves edge requests. It is safe for concurrent use; Reload swaps
// the configuration-derived state atomically.
type Edge struct {
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Collector
	renderer  Renderer
	snapshot  envsnap.Source
	contracts *envelope.ContractValidator

	state    atomic.Pointer[state]
	reloadMu sync.Mutex
}

// ReloadResult describes the outcome of a config reload.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
	Changes   []string  `json:"changes,omitempty"`
}

// New builds an edge from cfg.
func New(cfg *config.Config, opts Options) (*Edge, error) {
	e := &Edge{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		renderer: opts.Renderer,
		snapshot: opts.Snapshot,
	}
	if e.logger == nil {
		e.logger = logging.Global()
	}
	e.logger = e.logger.Named("edge")
	if e.metrics == nil {
		e.metrics = metrics.NewCollector()
	}
	if e.renderer == nil {
		e.renderer = DescriptorRenderer{}
	}
	if e.snapshot == nil {
		e.snapshot = envsnap.Capture
	}

	contracts, err := envelope.NewContractValidator()
	if err != nil {
		return nil, fmt.Errorf("contract schemas: %w", err)
	}
	e.contracts = contracts

	st, err := e.buildState(cfg)
	if err != nil {
		return nil, err
	}
	e.state.Store(st)
	return e, nil
}

// Reload builds state from cfg and swaps it in. In-flight requests finish
// on the state they started with. On failure the running state is kept.
func (e *Edge) Reload(cfg *config.Config) ReloadResult {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	result := ReloadResult{Timestamp: time.Now()}
	st, err := e.buildState(cfg)
	if err != nil {
		result.Error = err.Error()
		e.metrics.RecordReload(false)
		e.logger.Error("Config reload rejected", zap.Error(err))
		return result
	}

	old := e.state.Swap(st)
	result.Success = true
	result.Changes = configChanges(old.cfg, cfg)
	e.metrics.RecordReload(true)
	e.logger.Info("Config reloaded", zap.Strings("changes", result.Changes))
	return result
}

// Config returns the active configuration.
func (e *Edge) Config() *config.Config {
	return e.state.Load().cfg
}

// Metrics returns the collector the edge records into.
func (e *Edge) Metrics() *metrics.Collector {
	return e.metrics
}

// Brands lists the active brand registry.
func (e *Edge) Brands() []brand.Metadata {
	return e.state.Load().brands.All()
}

// Aliases returns the active alias table.
func (e *Edge) Aliases() map[string]router.Page {
	return e.state.Load().dispatcher.Table().Aliases()
}

// BreakerStates reports the circuit state of each HTTP backend client.
func (e *Edge) BreakerStates() map[string]string {
	st := e.state.Load()
	out := make(map[string]string, len(st.clients))
	for kind, h := range st.clients {
		out[string(kind)] = h.BreakerState()
	}
	return out
}

// RateLimits reports per-brand limiter counters; nil when disabled.
func (e *Edge) RateLimits() map[string]ratelimit.Stats {
	st := e.state.Load()
	if st.limiter == nil {
		return nil
	}
	return st.limiter.Stats()
}

// observer records backend calls and keeps the breaker gauge current.
func (e *Edge) observer(st *state) backend.Observer {
	return func(kind backend.Kind, req *backend.Request, d time.Duration, err error) {
		code := ""
		if err != nil {
			code = string(errors.CodeInternal)
			if ee, ok := errors.As(err); ok && ee.Code.Valid() {
				code = string(ee.Code)
			}
		}
		e.metrics.RecordBackendCall(string(kind), req.Action.String(), code, d)
		if h, ok := st.clients[kind]; ok {
			e.metrics.SetCircuitBreakerState(string(kind), h.BreakerState())
		}
	}
}

func (e *Edge) cacheLookup(kind backend.Kind, hit bool) {
	if hit {
		e.metrics.RecordCacheHit(string(kind))
	} else {
		e.metrics.RecordCacheMiss(string(kind))
	}
}
