package middleware

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/logging"
	"github.com/zeventbooks/eventangle-edge/internal/variables"
)

var loggingRWPool = sync.Pool{
	New: func() any { return &loggingResponseWriter{} },
}

// LoggingConfig configures the logging middleware
type LoggingConfig struct {
	// Format is the log format string with variables, used when JSON is off
	Format string
	// SkipPaths are paths that should not be logged
	SkipPaths []string
	// JSON logs structured zap fields instead of a formatted line
	JSON bool
	// Logger overrides the global logger
	Logger *zap.Logger
}

// DefaultLogFormat is the line format used when none is configured.
const DefaultLogFormat = `$remote_addr - [$time_iso8601] "$request_method $request_uri" $status $body_bytes_sent $brand/$page/$action $backend($backend_source) $code $response_time`

// DefaultLoggingConfig provides default logging settings
var DefaultLoggingConfig = LoggingConfig{
	Format: DefaultLogFormat,
}

// Logging creates a logging middleware with default config
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig)
}

// LoggingWithConfig writes one access log entry per request once the
// response is complete. The pipeline fills the variables context, so brand,
// page, action and backend decisions are visible here.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	format := cfg.Format
	if format == "" {
		format = DefaultLogFormat
	}
	tpl := variables.ParseTemplate(format)

	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			varCtx := variables.FromContext(r.Context())
			if varCtx == nil {
				varCtx = variables.NewContext(r)
				r = r.WithContext(variables.WithContext(r.Context(), varCtx))
			}

			lrw := loggingRWPool.Get().(*loggingResponseWriter)
			lrw.ResponseWriter = w
			lrw.status = http.StatusOK
			lrw.bytes = 0
			lrw.wroteHeader = false

			next.ServeHTTP(lrw, r)

			varCtx.Status = lrw.status
			varCtx.BodyBytesSent = lrw.bytes
			varCtx.ResponseTime = time.Since(start)

			logger := cfg.Logger
			if logger == nil {
				logger = logging.Global()
			}

			if cfg.JSON {
				logger.Info("HTTP request", accessFields(r, varCtx)...)
			} else {
				logger.Info(tpl.Render(varCtx))
			}

			lrw.ResponseWriter = nil
			loggingRWPool.Put(lrw)
		})
	}
}

func accessFields(r *http.Request, vc *variables.Context) []zap.Field {
	fields := make([]zap.Field, 0, 18)
	fields = append(fields,
		zap.String("request_id", vc.RequestID),
		zap.String("remote_addr", variables.ExtractClientIP(r)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", vc.Status),
		zap.Int64("body_bytes", vc.BodyBytesSent),
		zap.Duration("response_time", vc.ResponseTime),
	)
	if r.URL.RawQuery != "" {
		fields = append(fields, zap.String("query", r.URL.RawQuery))
	}
	optional := []struct{ key, val string }{
		{"environment", vc.Environment},
		{"brand", vc.Brand},
		{"kind", vc.Kind},
		{"page", vc.Page},
		{"action", vc.Action},
		{"backend", vc.Backend},
		{"backend_source", vc.Provenance},
		{"code", vc.Code},
	}
	for _, f := range optional {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	if vc.NotModified {
		fields = append(fields, zap.Bool("not_modified", true))
	}
	if ua := r.UserAgent(); ua != "" {
		fields = append(fields, zap.String("user_agent", ua))
	}
	return fields
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	if !lrw.wroteHeader {
		lrw.status = status
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
