package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/zeventbooks/eventangle-edge/internal/variables"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = "X-Request-ID"

// validID bounds what an incoming request ID may look like before it is
// echoed into logs and envelopes.
var validID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	// Generator generates a new request ID
	Generator func() string
	// TrustHeader reuses a well-formed incoming ID
	TrustHeader bool
}

// DefaultRequestIDConfig provides default request ID settings
var DefaultRequestIDConfig = RequestIDConfig{
	Generator:   defaultIDGenerator,
	TrustHeader: true,
}

func defaultIDGenerator() string {
	return uuid.New().String()
}

// RequestID creates a request ID middleware with default config
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig assigns every request a correlation ID, echoes it in
// the response header and stores it in the request context. It installs the
// variables context when none is present.
func RequestIDWithConfig(cfg RequestIDConfig) Middleware {
	if cfg.Generator == nil {
		cfg.Generator = defaultIDGenerator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if cfg.TrustHeader {
				if in := r.Header.Get(RequestIDHeader); validID.MatchString(in) {
					id = in
				}
			}
			if id == "" {
				id = cfg.Generator()
			}

			r.Header.Set(RequestIDHeader, id)
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			vc := variables.FromContext(ctx)
			if vc == nil {
				vc = variables.NewContext(r)
				ctx = variables.WithContext(ctx, vc)
			}
			vc.RequestID = id

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type requestIDKey struct{}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
