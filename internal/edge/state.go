package edge

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/cache"
	"github.com/zeventbooks/eventangle-edge/internal/coalesce"
	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/feature"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
	"github.com/zeventbooks/eventangle-edge/internal/ratelimit"
	"github.com/zeventbooks/eventangle-edge/internal/router"
)

// state is everything derived from one configuration. It is immutable once
// built and replaced whole on reload.
type state struct {
	cfg        *config.Config
	brands     *brand.Registry
	envs       *environment.Resolver
	selector   *backend.Selector
	dispatcher *router.Dispatcher
	gate       *feature.Gate
	limiter    *ratelimit.Limiter
	handlers   backend.Set
	clients    map[backend.Kind]*backend.HTTPHandler
	store      cache.Store
}

func (e *Edge) buildState(cfg *config.Config) (*state, error) {
	brands, err := brand.NewRegistry(cfg.Brands)
	if err != nil {
		return nil, fmt.Errorf("brands: %w", err)
	}
	table, err := router.NewTable(router.DefaultPages, brands.IDs())
	if err != nil {
		return nil, fmt.Errorf("alias table: %w", err)
	}

	envs := environment.NewResolver(cfg.Environments, environment.Deployment{
		Pinned:    cfg.Environment,
		TrustHost: cfg.TrustRequestHost,
	})

	st := &state{
		cfg:        cfg,
		brands:     brands,
		envs:       envs,
		selector:   backend.NewSelector(cfg.Backends),
		dispatcher: router.NewDispatcher(table, brands, e.logger),
		gate:       feature.NewGate(cfg.Features),
		limiter:    ratelimit.New(cfg.RateLimit, brands.IDs()),
		handlers:   make(backend.Set, 2),
		clients:    make(map[backend.Kind]*backend.HTTPHandler, 2),
	}

	if cfg.Cache.Enabled {
		st.store = e.newStore(cfg.Cache)
	}

	for _, kind := range []backend.Kind{backend.Legacy, backend.Native} {
		h, err := e.baseHandler(st, kind)
		if err != nil {
			return nil, err
		}
		var mws []backend.Middleware
		if st.store != nil {
			mws = append(mws, backend.CachedWithStats(kind, st.store, e.cacheLookup))
		}
		if st.store != nil && cfg.Cache.Coalesce {
			mws = append(mws, backend.Coalesce(kind, coalesce.New(st.timeout(kind))))
		}
		mws = append(mws, backend.Observed(kind, e.observer(st)))
		st.handlers[kind] = backend.Chain(h, mws...)
	}
	return st, nil
}

// timeout bounds one call to kind. Zero means no bound.
func (s *state) timeout(kind backend.Kind) time.Duration {
	if kind == backend.Native {
		return s.cfg.Backends.Native.Timeout
	}
	return s.cfg.Backends.Legacy.Timeout
}

// baseHandler returns the injected handler for kind, else an HTTP client
// for the configured URL. A backend without a URL answers INTERNAL.
func (e *Edge) baseHandler(st *state, kind backend.Kind) (backend.Handler, error) {
	if h, ok := e.opts.Handlers[kind]; ok {
		return h, nil
	}
	bc := st.cfg.Backends.Legacy
	if kind == backend.Native {
		bc = st.cfg.Backends.Native
	}
	if bc.URL == "" {
		return backend.HandlerFunc(func(context.Context, *backend.Request) ([]byte, error) {
			return nil, errors.New(errors.CodeInternal, fmt.Sprintf("%s backend is not configured", kind))
		}), nil
	}
	h, err := backend.NewHTTPHandler(kind, bc, nil)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", kind, err)
	}
	st.clients[kind] = h
	return h, nil
}

func (e *Edge) newStore(cc config.CacheConfig) cache.Store {
	if cc.Type == "redis" {
		if e.opts.Redis != nil {
			return cache.NewRedisStore(e.opts.Redis, "edge:", cc.TTL)
		}
		logging.Warn("Redis cache requested without a Redis client; using memory cache")
	}
	return cache.NewMemoryStore(cc.MaxSize, cc.TTL)
}

// configChanges names the top-level sections that differ between two
// configurations.
func configChanges(old, cur *config.Config) []string {
	if old == nil {
		return nil
	}
	sections := map[string][2]any{
		"listen":       {old.Listen, cur.Listen},
		"admin":        {old.Admin, cur.Admin},
		"environments": {old.Environments, cur.Environments},
		"environment":  {old.Environment, cur.Environment},
		"brands":       {old.Brands, cur.Brands},
		"backends":     {old.Backends, cur.Backends},
		"features":     {old.Features, cur.Features},
		"rate_limit":   {old.RateLimit, cur.RateLimit},
		"cache":        {old.Cache, cur.Cache},
		"redis":        {old.Redis, cur.Redis},
		"tracing":      {old.Tracing, cur.Tracing},
		"access_log":   {old.AccessLog, cur.AccessLog},
		"trust_override_headers": {
			old.TrustOverrideHeaders, cur.TrustOverrideHeaders,
		},
		"trust_request_host": {
			old.TrustRequestHost, cur.TrustRequestHost,
		},
	}
	var changed []string
	for name, pair := range sections {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
