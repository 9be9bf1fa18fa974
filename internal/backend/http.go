package backend

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// maxPayload bounds how much of a backend response is read.
const maxPayload = 8 << 20

// HTTPHandler calls a backend over HTTP. The legacy backend is a script web
// app addressed as ?action=<name>; the native backend serves /api/<name>.
type HTTPHandler struct {
	kind    Kind
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
	tracer  trace.Tracer
}

// NewHTTPHandler builds a handler for one backend. transport may be nil.
func NewHTTPHandler(kind Kind, cfg config.BackendConfig, transport http.RoundTripper) (*HTTPHandler, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s backend: url is required", kind)
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%s backend: invalid url: %w", kind, err)
	}
	if transport == nil {
		transport = newTransport(cfg)
	}

	h := &HTTPHandler{
		kind:    kind,
		base:    base,
		client:  &http.Client{Transport: transport},
		timeout: cfg.Timeout,
		tracer:  otel.Tracer("github.com/zeventbooks/eventangle-edge/internal/backend"),
	}
	// The legacy web app answers with a redirect to a content host.
	if kind != Legacy {
		h.client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if cfg.Breaker.Enabled {
		h.breaker = newBreaker(kind, cfg.Breaker)
	}
	return h, nil
}

func newTransport(cfg config.BackendConfig) *http.Transport {
	perHost := cfg.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = 10
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func newBreaker(kind Kind, cfg config.BreakerConfig) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	halfOpen := cfg.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        string(kind),
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("backend circuit breaker state change",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// isBreakerSuccess counts client-side outcomes as healthy: a missing event or
// a canceled caller says nothing about the backend.
func isBreakerSuccess(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return true
	}
	if ee, ok := errors.As(err); ok {
		switch ee.Code {
		case errors.CodeBadInput, errors.CodeNotFound, errors.CodeFeatureDisabled, errors.CodeRateLimited:
			return true
		}
	}
	return false
}

// Kind returns the backend this handler calls.
func (h *HTTPHandler) Kind() Kind {
	return h.kind
}

// BreakerState reports the circuit state, or "disabled".
func (h *HTTPHandler) BreakerState() string {
	if h.breaker == nil {
		return "disabled"
	}
	return h.breaker.State().String()
}

// Invoke implements Handler.
func (h *HTTPHandler) Invoke(ctx context.Context, req *Request) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, "backend."+req.Action.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("edge.backend", string(h.kind)),
			attribute.String("edge.brand", req.Brand),
			attribute.String("edge.action", req.Action.String()),
			attribute.String("edge.handler", req.Action.HandlerName()),
		),
	)
	defer span.End()

	var (
		payload []byte
		err     error
	)
	if h.breaker != nil {
		payload, err = h.breaker.Execute(func() ([]byte, error) { return h.do(ctx, req) })
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errors.Wrap(err, errors.CodeInternal, errors.ErrBackendUnavailable.Message)
		}
	} else {
		payload, err = h.do(ctx, req)
	}

	if err != nil && !isBreakerSuccess(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return payload, err
}

func (h *HTTPHandler) do(ctx context.Context, req *Request) ([]byte, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.targetURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", h.kind, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.CorrID != "" {
		httpReq.Header.Set("X-Request-ID", req.CorrID)
	}
	if req.AdminKey != "" && h.kind == Native {
		httpReq.Header.Set("X-Admin-Key", req.AdminKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s backend: %w", h.kind, ctxErr)
		}
		return nil, fmt.Errorf("%s backend: %w", h.kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s backend: %w", h.kind, ctxErr)
		}
		return nil, fmt.Errorf("%s backend: read body: %w", h.kind, err)
	}
	return Unwrap(resp.StatusCode, body)
}

// targetURL builds the backend URL. Parameters are added after the routing
// keys so a client cannot override action or brand.
func (h *HTTPHandler) targetURL(req *Request) string {
	u := *h.base
	if h.kind == Legacy && req.Endpoint != "" {
		if ep, err := url.Parse(req.Endpoint); err == nil && ep.Host != "" {
			u = *ep
		}
	}
	q := u.Query()
	for k, vs := range req.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("brand", req.Brand)
	if req.StoreID != "" {
		q.Set("storeId", req.StoreID)
	}

	switch h.kind {
	case Legacy:
		q.Set("action", req.Action.String())
		if req.AdminKey != "" {
			q.Set("adminKey", req.AdminKey)
		}
	default:
		u.Path = strings.TrimRight(u.Path, "/") + "/api/" + req.Action.String()
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Unwrap extracts the payload from a backend response. Both backends answer
// with the {ok, value} envelope; a bare JSON body with a 2xx status is taken
// as the payload itself.
func Unwrap(status int, body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		if status >= 400 {
			return nil, errors.New(errors.CodeInternal, fmt.Sprintf("backend returned status %d", status)).
				WithDetails(truncate(string(body), 256))
		}
		return nil, errors.Contract("response", fmt.Errorf("backend returned non-JSON body (status %d)", status))
	}

	doc := gjson.ParseBytes(body)
	ok := doc.Get("ok")
	if !ok.Exists() {
		if status >= 400 {
			return nil, errors.New(errors.CodeInternal, fmt.Sprintf("backend returned status %d", status))
		}
		return body, nil
	}

	if ok.Bool() {
		v := doc.Get("value")
		if !v.Exists() {
			return []byte("null"), nil
		}
		return []byte(v.Raw), nil
	}

	code := errors.Code(doc.Get("code").String())
	msg := doc.Get("message").String()
	if !code.Valid() {
		return nil, errors.New(errors.CodeInternal, "backend reported an unknown error").
			WithDetails(fmt.Sprintf("code=%q message=%q", code, msg))
	}
	if msg == "" {
		msg = string(code)
	}
	return nil, errors.New(code, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
