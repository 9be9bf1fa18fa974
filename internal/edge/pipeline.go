package edge

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/envelope"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/router"
	"github.com/zeventbooks/eventangle-edge/internal/variables"
)

// Response headers.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderEnvironment = "X-Edge-Environment"
	HeaderAdminKey    = "X-Admin-Key"
)

// Query parameters the edge consumes; they are never forwarded.
const (
	paramBrand       = "brand"
	paramIfNoneMatch = "ifNoneMatch"
	paramAdminKey    = "adminKey"
	paramEventID     = "id"
)

var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// exchange is one request moving through the pipeline.
type exchange struct {
	st        *state
	r         *http.Request
	vc        *variables.Context
	lc        *envelope.Lifecycle
	snap      envsnap.Snapshot
	query     url.Values
	corrID    string
	env       environment.Environment
	target    router.Target
	decision  *backend.Decision
	runtime   brand.RuntimeConfig
	condition string // ifNoneMatch token
	fromHTTP  bool   // token came from the If-None-Match header
	cause     error  // unmapped failure, for logging
	retry     time.Duration
	logger    *zap.Logger
}

// ServeHTTP runs the pipeline for one request.
func (e *Edge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query()

	if r.URL.Path == "/" {
		if to := router.LegacyRedirect(query); to != "" {
			http.Redirect(w, r, to, http.StatusMovedPermanently)
			return
		}
	}

	x := &exchange{
		st:     e.state.Load(),
		r:      r,
		vc:     variables.GetFromRequest(r),
		lc:     envelope.NewLifecycle(),
		snap:   e.snapshot(),
		query:  query,
		logger: e.logger,
	}
	x.corrID = x.vc.RequestID
	if x.corrID == "" {
		x.corrID = r.Header.Get(HeaderRequestID)
	}

	overrides := environment.OverridesFromSnapshot(x.snap)
	if x.st.cfg.TrustOverrideHeaders {
		overrides = environment.OverridesFromHeaders(overrides, r.Header)
	}
	x.env = x.st.envs.Resolve(overrides, r.Host)
	x.vc.Environment = string(x.env.Name)

	res := e.run(r.Context(), x)

	if r.Context().Err() != nil {
		// The client is gone; nothing may be written.
		e.logger.Debug("request canceled by client",
			zap.String("request_id", x.corrID),
			zap.String("path", r.URL.Path),
		)
		return
	}

	env := envelope.Wrap(res, x.condition, envelope.Options{
		Production: x.env.IsProduction(),
		CorrID:     x.corrID,
	})
	if env.OK {
		x.advance(envelope.Succeeded)
	} else {
		x.advance(envelope.Failed)
	}
	e.emit(w, x, env)
	x.advance(envelope.Emitted)

	code := ""
	if !env.OK {
		code = string(env.Err.Code)
	}
	e.metrics.RecordRequest(string(x.target.Kind), x.target.Brand, string(x.target.Page), code, time.Since(start))
}

// run executes every step up to the backend result. Rejections before a
// backend is chosen come back as a Result carrying the error.
func (e *Edge) run(ctx context.Context, x *exchange) envelope.Result {
	fail := func(err error) envelope.Result {
		x.cause = err
		return envelope.Result{Err: err}
	}

	switch x.r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if err := x.r.ParseForm(); err != nil {
			return fail(errors.BadInput("malformed form body"))
		}
		for k, vs := range x.r.PostForm {
			for _, v := range vs {
				x.query.Add(k, v)
			}
		}
	default:
		return fail(errors.BadInput("method %s not allowed", x.r.Method))
	}

	target, err := x.st.dispatcher.Dispatch(x.r.URL.Path, x.query)
	if err != nil {
		return fail(err)
	}
	x.target = target
	x.vc.Brand = target.Brand
	x.vc.Kind = string(target.Kind)
	x.vc.Page = string(target.Page)
	x.vc.Action = target.ActionName()

	x.condition = x.query.Get(paramIfNoneMatch)
	if h := x.r.Header.Get("If-None-Match"); h != "" {
		x.condition, x.fromHTTP = h, true
	}

	if err := x.st.limiter.Allow(target.Brand); err != nil {
		e.metrics.RecordRateLimited(target.Brand)
		x.retry = x.st.limiter.RetryAfter(target.Brand)
		return fail(err)
	}

	if feat := e.featureOf(x); feat != "" {
		if err := x.st.gate.Check(target.Brand, feat); err != nil {
			e.metrics.RecordFeatureBlock(target.Brand, feat)
			return fail(err)
		}
	}

	x.runtime = x.st.brands.RuntimeConfig(target.Brand, x.snap)
	var adminKey string
	if target.Kind == router.KindAPI {
		if target.Action.RequiresAdmin() {
			if adminKey, err = x.verifyAdmin(); err != nil {
				return fail(err)
			}
		}
		if target.Action.RequiresEventID() && !eventIDPattern.MatchString(x.query.Get(paramEventID)) {
			return fail(errors.BadInput("parameter %q must match %s", paramEventID, eventIDPattern))
		}
	}

	d := x.st.selector.Select(target.Route, x.query, x.env)
	x.decision = &d
	x.vc.Backend = string(d.Backend)
	x.vc.Provenance = string(d.Provenance)
	e.metrics.RecordDecision(string(d.Backend), string(d.Provenance), string(x.env.Name))
	x.advance(envelope.BackendSelected)

	if t := x.st.timeout(d.Backend); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	x.advance(envelope.BackendInvoked)
	var payload []byte
	if target.Kind == router.KindPage {
		payload, err = e.renderer.Render(ctx, e.pageRequest(x))
	} else {
		payload, err = x.st.handlers[d.Backend].Invoke(ctx, &backend.Request{
			Action:      target.Action,
			Brand:       target.Brand,
			Params:      forwardParams(x.query, x.st.selector.OverrideParam()),
			AdminKey:    adminKey,
			StoreID:     x.runtime.StoreID,
			Environment: x.env.Name,
			Endpoint:    x.env.LegacyExecURL,
			CorrID:      x.corrID,
		})
		if err == nil {
			err = e.contracts.Validate(target.Action, payload)
		}
	}
	if err != nil {
		return fail(err)
	}
	return envelope.Result{Payload: payload}
}

// featureOf names the kill switch guarding the request. A page is guarded
// by the switch of its primary action.
func (e *Edge) featureOf(x *exchange) string {
	if x.target.Kind == router.KindAPI {
		return x.target.Action.Feature()
	}
	spec, ok := x.st.dispatcher.Table().Spec(x.target.Page)
	if !ok || len(spec.Actions) == 0 {
		return ""
	}
	return spec.Actions[0].Feature()
}

// verifyAdmin checks the presented key against the brand secret in constant
// time. A brand without a secret rejects every key.
func (x *exchange) verifyAdmin() (string, error) {
	presented := x.r.Header.Get(HeaderAdminKey)
	if presented == "" {
		presented = x.query.Get(paramAdminKey)
	}
	if presented == "" || !x.runtime.HasAdminKey ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(x.runtime.AdminSecret)) != 1 {
		return "", errors.ErrInvalidAdminKey
	}
	return presented, nil
}

// retryAfterSeconds rounds the limiter's wait up to whole seconds.
func retryAfterSeconds(wait time.Duration) string {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// advance moves the lifecycle. An illegal transition is a pipeline bug; it
// is logged and otherwise ignored so the client still gets an answer.
func (x *exchange) advance(s envelope.Stage) {
	if err := x.lc.Advance(s); err != nil {
		x.logger.Error("illegal lifecycle transition", zap.Error(err))
	}
}

func (e *Edge) pageRequest(x *exchange) PageRequest {
	meta, _ := x.st.brands.Metadata(x.target.Brand)
	spec, _ := x.st.dispatcher.Table().Spec(x.target.Page)
	actions := make([]string, len(spec.Actions))
	for i, a := range spec.Actions {
		actions[i] = a.String()
	}
	return PageRequest{
		Page:        x.target.Page,
		Alias:       x.target.Alias,
		Brand:       meta,
		BrandSource: string(x.target.BrandSource),
		Environment: x.env,
		Backend:     string(x.decision.Backend),
		Actions:     actions,
	}
}

// forwardParams copies the client parameters the backend may see.
func forwardParams(query url.Values, overrideParam string) url.Values {
	out := make(url.Values, len(query))
	for k, vs := range query {
		switch k {
		case paramBrand, paramIfNoneMatch, paramAdminKey, overrideParam:
			continue
		}
		out[k] = vs
	}
	return out
}

// emit writes the envelope. A matched If-None-Match header is answered with
// 304 and no body; a matched ifNoneMatch parameter gets the not-modified
// envelope.
func (e *Edge) emit(w http.ResponseWriter, x *exchange, env envelope.Envelope) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set(HeaderEnvironment, string(x.env.Name))
	if x.corrID != "" {
		h.Set(HeaderRequestID, x.corrID)
	}
	if x.decision != nil {
		h.Set(backend.HeaderBackend, string(x.decision.Backend))
		h.Set(backend.HeaderSource, string(x.decision.Provenance))
	}
	if !env.OK && env.Err.Code == errors.CodeRateLimited {
		h.Set("Retry-After", retryAfterSeconds(x.retry))
	}

	if env.OK {
		h.Set("ETag", envelope.Quote(env.ETag))
		if env.NotModified {
			x.vc.NotModified = true
			e.metrics.RecordNotModified(x.target.ActionName())
			if x.fromHTTP {
				h.Del("Content-Type")
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	} else {
		x.vc.Code = string(env.Err.Code)
		e.logFailure(x, env.Err)
	}

	body, err := env.Bytes()
	if err != nil {
		e.logger.Error("encode envelope", zap.Error(err))
		body = []byte(`{"ok":false,"code":"INTERNAL","message":"internal error"}`)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(body)
		return
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(env.Status())
	w.Write(body)
}

// logFailure records server-side failures with the detail the client never
// sees. Client errors are logged at debug.
func (e *Edge) logFailure(x *exchange, out *errors.EdgeError) {
	fields := []zap.Field{
		zap.String("request_id", x.corrID),
		zap.String("code", string(out.Code)),
		zap.String("path", x.r.URL.Path),
		zap.String("brand", x.target.Brand),
		zap.String("action", x.target.ActionName()),
		zap.String("environment", string(x.env.Name)),
	}
	if x.decision != nil {
		fields = append(fields, zap.String("backend", string(x.decision.Backend)))
	}
	if x.cause != nil {
		fields = append(fields, zap.Error(x.cause))
		if ee, ok := errors.As(x.cause); ok && ee.Details != "" {
			fields = append(fields, zap.String("details", ee.Details))
		}
	}
	switch {
	case out.Code == errors.CodeInternal || out.Code == errors.CodeContract:
		if stderrors.Is(x.cause, context.DeadlineExceeded) {
			e.logger.Warn("backend timed out", fields...)
			return
		}
		e.logger.Error("request failed", fields...)
	default:
		e.logger.Debug("request rejected", fields...)
	}
}
