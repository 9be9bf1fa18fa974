// Package coalesce deduplicates concurrent identical backend reads.
package coalesce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds how long a caller waits on a shared call.
const DefaultTimeout = 30 * time.Second

// flight is the context shared by every caller waiting on one key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Stats holds coalescing metrics.
type Stats struct {
	GroupsCreated     int64 `json:"groups_created"`
	RequestsCoalesced int64 `json:"requests_coalesced"`
	Timeouts          int64 `json:"timeouts"`
	InFlight          int64 `json:"in_flight"`
}

// Coalescer shares one backend call among concurrent callers with the same key.
type Coalescer struct {
	group   singleflight.Group
	timeout time.Duration

	mu      sync.Mutex
	flights map[string]*flight

	groupsCreated     atomic.Int64
	requestsCoalesced atomic.Int64
	timeouts          atomic.Int64
	inFlight          atomic.Int64
}

// New creates a Coalescer. A zero timeout uses DefaultTimeout.
func New(timeout time.Duration) *Coalescer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coalescer{timeout: timeout, flights: make(map[string]*flight)}
}

// Execute runs fn via singleflight, sharing the payload with concurrent callers.
// It reports whether the result was shared. fn receives a context that keeps
// the first caller's values, such as trace spans, and is canceled once every
// caller waiting on key has returned. A caller that waits longer than the
// coalesce timeout gets context.DeadlineExceeded.
func (c *Coalescer) Execute(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.groupsCreated.Add(1)
		return fn(f.ctx)
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if result.Shared {
			c.requestsCoalesced.Add(1)
		}
		if result.Err != nil {
			return nil, result.Shared, result.Err
		}
		return result.Val.([]byte), result.Shared, nil

	case <-timer.C:
		c.timeouts.Add(1)
		return nil, false, fmt.Errorf("coalesced call exceeded %s: %w", c.timeout, context.DeadlineExceeded)

	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Coalescer) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave cancels the shared call when its last caller returns. The key is
// forgotten so later callers start a fresh call instead of joining a
// canceled one.
func (c *Coalescer) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	c.group.Forget(key)
}

// Stats returns a snapshot of coalescing metrics.
func (c *Coalescer) Stats() Stats {
	return Stats{
		GroupsCreated:     c.groupsCreated.Load(),
		RequestsCoalesced: c.requestsCoalesced.Load(),
		Timeouts:          c.timeouts.Load(),
		InFlight:          c.inFlight.Load(),
	}
}
