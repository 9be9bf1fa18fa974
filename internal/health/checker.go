// Package health probes the configured backends and reports readiness.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Target is one backend to probe. The probe URL is URL followed by
// HealthPath verbatim, so a query-style path such as "?action=health" works.
type Target struct {
	Name       string
	URL        string
	HealthPath string
}

func (t Target) probeURL() string {
	return t.URL + t.HealthPath
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Latency   string    `json:"latency,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds health checker configuration
type Config struct {
	Timeout        time.Duration
	Interval       time.Duration
	HealthyAfter   int // consecutive successes needed to be healthy
	UnhealthyAfter int // consecutive failures needed to be unhealthy
	// StartupWait bounds the initial backoff probe.
	StartupWait time.Duration
	OnChange    func(name string, status Status)
	Client      *http.Client
}

// DefaultConfig provides default health checker settings
var DefaultConfig = Config{
	Timeout:        5 * time.Second,
	Interval:       15 * time.Second,
	HealthyAfter:   1,
	UnhealthyAfter: 3,
	StartupWait:    30 * time.Second,
}

// Checker performs health checks on backends
type Checker struct {
	cfg     Config
	client  *http.Client
	mu      sync.RWMutex
	targets map[string]*targetState
}

type targetState struct {
	target          Target
	status          Status
	lastCheck       time.Time
	lastError       error
	consecutivePass int
	consecutiveFail int
	latency         time.Duration
}

// NewChecker creates a checker for targets. Targets without a URL are skipped.
func NewChecker(cfg Config, targets ...Target) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = DefaultConfig.HealthyAfter
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = DefaultConfig.UnhealthyAfter
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = DefaultConfig.StartupWait
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	c := &Checker{cfg: cfg, client: client, targets: make(map[string]*targetState)}
	for _, t := range targets {
		if t.URL == "" {
			continue
		}
		c.targets[t.Name] = &targetState{target: t, status: StatusUnknown}
	}
	return c
}

// Probe checks every target in parallel, retrying each with exponential
// backoff until it answers or StartupWait elapses. It returns an error
// naming the first target that never became healthy.
func (c *Checker) Probe(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.names() {
		name := name
		g.Go(func() error {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 250 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			bo.MaxElapsedTime = c.cfg.StartupWait

			err := backoff.Retry(func() error {
				return c.check(gctx, name)
			}, backoff.WithContext(bo, gctx))
			if err != nil {
				return fmt.Errorf("backend %s not ready: %w", name, err)
			}
			c.force(name, StatusHealthy)
			return nil
		})
	}
	return g.Wait()
}

// Run checks every target each Interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll performs one round of checks in parallel.
func (c *Checker) CheckAll(ctx context.Context) {
	var g errgroup.Group
	for _, name := range c.names() {
		name := name
		g.Go(func() error {
			c.check(ctx, name)
			return nil
		})
	}
	g.Wait()
}

func (c *Checker) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// check performs a single health check and folds it into the target state.
func (c *Checker) check(ctx context.Context, name string) error {
	c.mu.RLock()
	state, ok := c.targets[name]
	c.mu.RUnlock()
	if !ok {
		return backoff.Permanent(fmt.Errorf("unknown target %q", name))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := c.do(ctx, state.target.probeURL())
	c.update(name, err == nil, time.Since(start), err)
	return err
}

func (c *Checker) do(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return nil
}

// update applies the threshold logic
func (c *Checker) update(name string, healthy bool, latency time.Duration, err error) {
	c.mu.Lock()
	state, ok := c.targets[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	state.lastCheck = time.Now()
	state.lastError = err
	state.latency = latency

	old := state.status
	if healthy {
		state.consecutiveFail = 0
		state.consecutivePass++
		if state.consecutivePass >= c.cfg.HealthyAfter {
			state.status = StatusHealthy
		}
	} else {
		state.consecutivePass = 0
		state.consecutiveFail++
		if state.consecutiveFail >= c.cfg.UnhealthyAfter {
			state.status = StatusUnhealthy
		}
	}
	now := state.status
	c.mu.Unlock()

	if old != now {
		c.changed(name, now, err)
	}
}

// force sets a status without the thresholds; a successful startup probe
// counts as healthy immediately.
func (c *Checker) force(name string, status Status) {
	c.mu.Lock()
	state, ok := c.targets[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	old := state.status
	state.status = status
	c.mu.Unlock()
	if old != status {
		c.changed(name, status, nil)
	}
}

func (c *Checker) changed(name string, status Status, err error) {
	fields := []zap.Field{zap.String("backend", name), zap.String("status", string(status))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status == StatusHealthy {
		logging.Info("Backend health changed", fields...)
	} else {
		logging.Warn("Backend health changed", fields...)
	}
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(name, status)
	}
}

// GetStatus returns the health status of a backend
func (c *Checker) GetStatus(name string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.targets[name]; ok {
		return state.status
	}
	return StatusUnknown
}

// Ready reports whether no probed backend is unhealthy and at least one has
// answered.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	healthy := 0
	for _, state := range c.targets {
		switch state.status {
		case StatusUnhealthy:
			return false
		case StatusHealthy:
			healthy++
		}
	}
	return healthy > 0 || len(c.targets) == 0
}

// GetAllStatus returns the health status of all backends, sorted by name.
func (c *Checker) GetAllStatus() []CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([]CheckResult, 0, len(c.targets))
	for name, state := range c.targets {
		res := CheckResult{
			Name:      name,
			URL:       state.target.URL,
			Status:    state.status,
			Timestamp: state.lastCheck,
		}
		if state.latency > 0 {
			res.Latency = state.latency.String()
		}
		if state.lastError != nil {
			res.Error = state.lastError.Error()
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}
