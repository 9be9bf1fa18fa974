package edge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/health"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
	"github.com/zeventbooks/eventangle-edge/internal/metrics"
	"github.com/zeventbooks/eventangle-edge/internal/middleware"
	"github.com/zeventbooks/eventangle-edge/internal/tracing"
)

// Server wraps the edge with its listeners, health probing and reload.
type Server struct {
	edge       *Edge
	main       *http.Server
	admin      *http.Server
	checker    *health.Checker
	tracer     *tracing.Tracer
	redis      *redis.Client
	metrics    *metrics.Collector
	configPath string
	startTime  time.Time

	mu            sync.Mutex
	reloadHistory []ReloadResult
}

// NewServer creates the edge and its listeners. configPath is re-read on
// reload; an empty path disables file reloads.
func NewServer(cfg *config.Config, configPath string, opts Options) (*Server, error) {
	s := &Server{configPath: configPath, startTime: time.Now()}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	s.metrics = opts.Metrics

	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" && opts.Redis == nil && cfg.Redis.Address != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.Redis = s.redis
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	s.tracer = tracer

	gw, err := New(cfg, opts)
	if err != nil {
		tracer.Close(context.Background())
		return nil, err
	}
	s.edge = gw

	s.checker = health.NewChecker(health.Config{
		OnChange: func(name string, status health.Status) {
			s.metrics.SetBackendHealth(name, status == health.StatusHealthy)
		},
	},
		health.Target{Name: string(backend.Legacy), URL: cfg.Backends.Legacy.URL, HealthPath: cfg.Backends.Legacy.HealthPath},
		health.Target{Name: string(backend.Native), URL: cfg.Backends.Native.URL, HealthPath: cfg.Backends.Native.HealthPath},
	)

	s.main = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.Admin.Enabled {
		s.admin = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      s.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}
	return s, nil
}

// Edge returns the request pipeline.
func (s *Server) Edge() *Edge {
	return s.edge
}

// Handler is the main listener: a liveness fast path, everything else to
// the edge, wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.HandleOPTIONS = false
	r.GET("/healthz", s.handleLive)
	r.NotFound = s.edge

	al := s.edge.Config().AccessLog
	return middleware.NewBuilder().
		Use(middleware.RequestID()).
		UseIf(al.Enabled, middleware.LoggingWithConfig(middleware.LoggingConfig{
			JSON:      al.JSON,
			Format:    al.Format,
			SkipPaths: al.SkipPaths,
		})).
		UseIf(s.tracer.IsEnabled(), s.tracer.Middleware()).
		Use(middleware.Recovery()).
		Handler(r)
}

// Start begins serving. Listener errors after start are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.main.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.main.Addr, err)
	}
	go s.serve("edge", s.main, ln)

	if s.admin != nil {
		aln, err := net.Listen("tcp", s.admin.Addr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen admin %s: %w", s.admin.Addr, err)
		}
		go s.serve("admin", s.admin, aln)
	}
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	logging.Info("Starting listener", zap.String("listener", name), zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("Listener stopped", zap.String("listener", name), zap.Error(err))
	}
}

// Run starts the server and blocks until ctx is done or SIGINT/SIGTERM
// arrives. SIGHUP and config file changes trigger a reload.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.checker.Probe(gctx); err != nil {
			logging.Warn("Backend startup probe failed", zap.Error(err))
		}
		s.checker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				s.logReload(s.ReloadConfig())
			}
		}
	})

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath)
		if err != nil {
			logging.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			watcher.OnChange(func(cfg *config.Config) {
				s.logReload(s.apply(cfg))
			})
			if err := watcher.Start(); err != nil {
				logging.Warn("Config watcher failed to start", zap.Error(err))
			}
			defer watcher.Stop()
		}
	}

	<-gctx.Done()
	logging.Info("Shutting down gracefully...")
	timeout := s.edge.Config().Shutdown.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	err := s.Shutdown(timeout)
	g.Wait()
	return err
}

func (s *Server) logReload(result ReloadResult) {
	if result.Success {
		logging.Info("Config reloaded successfully", zap.Strings("changes", result.Changes))
	} else {
		logging.Error("Config reload failed", zap.String("error", result.Error))
	}
}

// Shutdown drains the listeners and releases backend resources.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	if err := s.main.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("edge: %w", err))
	}
	if err := s.tracer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	logging.Sync()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logging.Info("Server shutdown complete")
	return nil
}

// ReloadConfig re-reads the config file and applies it.
func (s *Server) ReloadConfig() ReloadResult {
	if s.configPath == "" {
		return s.record(ReloadResult{Timestamp: time.Now(), Error: "no config path configured"})
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		s.metrics.RecordReload(false)
		return s.record(ReloadResult{Timestamp: time.Now(), Error: fmt.Sprintf("config load failed: %v", err)})
	}
	return s.apply(cfg)
}

func (s *Server) apply(cfg *config.Config) ReloadResult {
	return s.record(s.edge.Reload(cfg))
}

func (s *Server) record(result ReloadResult) ReloadResult {
	s.mu.Lock()
	s.reloadHistory = append(s.reloadHistory, result)
	if len(s.reloadHistory) > 50 {
		s.reloadHistory = s.reloadHistory[len(s.reloadHistory)-50:]
	}
	s.mu.Unlock()
	return result
}

// ReloadHistory returns the most recent reload results, oldest first.
func (s *Server) ReloadHistory() []ReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReloadResult(nil), s.reloadHistory...)
}
