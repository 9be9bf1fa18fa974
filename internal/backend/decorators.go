package backend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/cache"
	"github.com/zeventbooks/eventangle-edge/internal/coalesce"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// requestKey identifies equivalent backend reads. The admin key is left out
// because only read actions reach it.
func requestKey(kind Kind, req *Request) []string {
	return []string{string(kind), req.Action.String(), string(req.Environment), req.StoreID, canonicalParams(req.Params)}
}

// Coalesce shares concurrent identical read calls to kind's handler.
func Coalesce(kind Kind, c *coalesce.Coalescer) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) ([]byte, error) {
			if !req.Action.Read() {
				return next.Invoke(ctx, req)
			}
			key := cache.Key(req.Brand, requestKey(kind, req)...)
			payload, shared, err := c.Execute(ctx, key, func(ctx context.Context) ([]byte, error) {
				return next.Invoke(ctx, req)
			})
			if shared {
				logging.Debug("coalesced backend read",
					zap.String("backend", string(kind)),
					zap.String("brand", req.Brand),
					zap.String("action", req.Action.String()),
				)
			}
			return payload, err
		})
	}
}

// Cached serves read actions from store, filling it on success. Errors are
// never cached.
func Cached(kind Kind, store cache.Store) Middleware {
	return CachedWithStats(kind, store, nil)
}

// CachedWithStats is Cached reporting every lookup to onLookup.
func CachedWithStats(kind Kind, store cache.Store, onLookup func(kind Kind, hit bool)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) ([]byte, error) {
			if !req.Action.Read() {
				return next.Invoke(ctx, req)
			}
			key := cache.Key(req.Brand, requestKey(kind, req)...)
			payload, ok := store.Get(ctx, key)
			if onLookup != nil {
				onLookup(kind, ok)
			}
			if ok {
				return payload, nil
			}
			payload, err := next.Invoke(ctx, req)
			if err != nil {
				return nil, err
			}
			store.Set(ctx, key, payload)
			return payload, nil
		})
	}
}

// Observer receives the outcome of each backend call.
type Observer func(kind Kind, req *Request, d time.Duration, err error)

// Observed reports every call to kind's handler to obs.
func Observed(kind Kind, obs Observer) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) ([]byte, error) {
			start := time.Now()
			payload, err := next.Invoke(ctx, req)
			obs(kind, req, time.Since(start), err)
			return payload, err
		})
	}
}
