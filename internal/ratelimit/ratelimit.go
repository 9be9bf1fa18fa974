// Package ratelimit enforces a request budget per brand.
package ratelimit

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
)

type brandLimiter struct {
	limiter *rate.Limiter
	allowed atomic.Int64
	limited atomic.Int64
}

// Limiter holds one token bucket per brand. The brand set is fixed at
// construction so no locking is needed.
type Limiter struct {
	brands map[string]*brandLimiter
}

// Stats are per-brand counters.
type Stats struct {
	Allowed     int64 `json:"allowed"`
	RateLimited int64 `json:"rate_limited"`
}

// New builds a limiter for brandIDs. It returns nil when rate limiting is
// disabled; a nil *Limiter allows everything.
func New(cfg config.RateLimitConfig, brandIDs []string) *Limiter {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return nil
	}
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	limit := rate.Limit(float64(cfg.Rate) / period.Seconds())
	l := &Limiter{brands: make(map[string]*brandLimiter, len(brandIDs))}
	for _, id := range brandIDs {
		l.brands[id] = &brandLimiter{limiter: rate.NewLimiter(limit, burst)}
	}
	return l
}

// Allow consumes one token from brand's bucket. Unknown brands are not
// limited; the dispatcher rejects them earlier.
func (l *Limiter) Allow(brand string) error {
	if l == nil {
		return nil
	}
	b, ok := l.brands[brand]
	if !ok {
		return nil
	}
	if !b.limiter.Allow() {
		b.limited.Add(1)
		return errors.ErrRateLimited
	}
	b.allowed.Add(1)
	return nil
}

// RetryAfter estimates how long brand must wait for its next token.
func (l *Limiter) RetryAfter(brand string) time.Duration {
	if l == nil {
		return 0
	}
	b, ok := l.brands[brand]
	if !ok {
		return 0
	}
	r := b.limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// Stats returns per-brand counters.
func (l *Limiter) Stats() map[string]Stats {
	if l == nil {
		return nil
	}
	out := make(map[string]Stats, len(l.brands))
	for id, b := range l.brands {
		out[id] = Stats{Allowed: b.allowed.Load(), RateLimited: b.limited.Load()}
	}
	return out
}
