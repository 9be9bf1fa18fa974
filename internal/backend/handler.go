package backend

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/zeventbooks/eventangle-edge/internal/action"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
)

// Request is the normalized context handed to a backend handler.
type Request struct {
	Action      action.Action
	Brand       string
	Params      url.Values // client parameters, routing params removed
	AdminKey    string     // presented credential, already verified by the edge
	StoreID     string
	Environment environment.Name
	// Endpoint replaces the configured legacy URL when the environment
	// names its own deployment.
	Endpoint string
	CorrID   string
}

// Handler invokes one backend. It returns the raw success payload (JSON) or
// an error; *errors.EdgeError values carry the backend's own taxonomy code.
// Implementations must honor ctx cancellation.
type Handler interface {
	Invoke(ctx context.Context, req *Request) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// Set maps each backend kind to its handler.
type Set map[Kind]Handler

// Middleware decorates a handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// canonicalParams encodes params with sorted keys and values so equivalent
// requests share cache and coalescing keys.
func canonicalParams(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), v[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}
