// Package variables carries per-request facts for access logging and
// resolves $variable templates against them.
package variables

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Context holds what the edge learned about one request. It is created by
// the outermost middleware and filled in as the pipeline advances.
type Context struct {
	Request   *http.Request
	StartTime time.Time
	RequestID string

	Environment string
	Brand       string
	Kind        string
	Page        string
	Action      string
	Backend     string
	Provenance  string
	Code        string
	NotModified bool

	Status        int
	BodyBytesSent int64
	ResponseTime  time.Duration
}

// NewContext creates a context for r.
func NewContext(r *http.Request) *Context {
	return &Context{Request: r, StartTime: time.Now()}
}

type contextKey struct{}

// WithContext stores vc in ctx.
func WithContext(ctx context.Context, vc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, vc)
}

// FromContext returns the request's variable context, or nil.
func FromContext(ctx context.Context) *Context {
	vc, _ := ctx.Value(contextKey{}).(*Context)
	return vc
}

// GetFromRequest returns the request's variable context, creating a detached
// one when none was installed.
func GetFromRequest(r *http.Request) *Context {
	if vc := FromContext(r.Context()); vc != nil {
		return vc
	}
	return NewContext(r)
}

// ExtractClientIP extracts the client IP from forwarding headers or
// RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
