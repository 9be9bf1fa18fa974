package edge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/action"
	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
	edgeerrors "github.com/zeventbooks/eventangle-edge/internal/errors"
)

const (
	eventsPayload = `{"items":[{"id":"e1"},{"id":"e2"}],"next":null}`
	bundlePayload = `{"event":{"id":"e1","name":"Spring Open"}}`
)

// recorder is a fake backend that remembers the requests it served.
type recorder struct {
	mu       sync.Mutex
	requests []*backend.Request
	respond  func(ctx context.Context, req *backend.Request) ([]byte, error)
}

func (f *recorder) Invoke(ctx context.Context, req *backend.Request) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, req)
	}
	switch req.Action {
	case action.ListEvents:
		return []byte(eventsPayload), nil
	case action.GetPublicBundle, action.GetAdminBundle, action.GetPosterBundle, action.GetDisplayBundle:
		return []byte(bundlePayload), nil
	}
	return []byte(`{"status":"ok"}`), nil
}

func (f *recorder) last(t *testing.T) *backend.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("backend was not called")
	}
	return f.requests[len(f.requests)-1]
}

func (f *recorder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixture struct {
	edge   *Edge
	legacy *recorder
	native *recorder
}

func newFixture(t *testing.T, mutate func(*config.Config), env map[string]string) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	// Fixtures pick the environment through the request host.
	cfg.TrustRequestHost = true
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{legacy: &recorder{}, native: &recorder{}}
	e, err := New(cfg, Options{
		Handlers: backend.Set{backend.Legacy: f.legacy, backend.Native: f.native},
		Snapshot: func() envsnap.Snapshot { return envsnap.FromMap(env) },
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.edge = e
	return f
}

func (f *fixture) get(target, host string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = host
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.edge.ServeHTTP(rec, req)
	return rec
}

func TestListEventsSuccess(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.get("/abc/api/listEvents?limit=10&brand=cbc", "localhost:8787", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !gjson.Get(body, "ok").Bool() {
		t.Errorf("ok = false: %s", body)
	}
	if got := gjson.Get(body, "value.items.1.id").String(); got != "e2" {
		t.Errorf("value.items.1.id = %q", got)
	}
	etag := gjson.Get(body, "etag").String()
	if etag == "" {
		t.Fatal("missing etag")
	}
	if got := rec.Header().Get("ETag"); got != `"`+etag+`"` {
		t.Errorf("ETag header = %q, want quoted %q", got, etag)
	}
	if got := rec.Header().Get(backend.HeaderBackend); got != "native" {
		t.Errorf("%s = %q", backend.HeaderBackend, got)
	}
	if got := rec.Header().Get(backend.HeaderSource); got != string(backend.GlobalMode) {
		t.Errorf("%s = %q", backend.HeaderSource, got)
	}
	if got := rec.Header().Get(HeaderEnvironment); got != "local" {
		t.Errorf("%s = %q", HeaderEnvironment, got)
	}

	req := f.native.last(t)
	if req.Brand != "abc" {
		t.Errorf("brand = %q, want path brand abc", req.Brand)
	}
	if req.Params.Has("brand") {
		t.Error("brand parameter forwarded to backend")
	}
	if req.Params.Get("limit") != "10" {
		t.Errorf("limit = %q", req.Params.Get("limit"))
	}
	if f.legacy.calls() != 0 {
		t.Error("legacy backend called")
	}
}

func TestETagStableAcrossKeyOrder(t *testing.T) {
	payloads := []string{`{"items":[{"id":"a"}],"next":null}`, `{"next":null,"items":[{"id":"a"}]}`}
	var tags []string
	for _, p := range payloads {
		p := p
		f := newFixture(t, nil, nil)
		f.native.respond = func(context.Context, *backend.Request) ([]byte, error) { return []byte(p), nil }
		rec := f.get("/abc/api/listEvents", "localhost", nil)
		tags = append(tags, gjson.Get(rec.Body.String(), "etag").String())
	}
	if tags[0] == "" || tags[0] != tags[1] {
		t.Errorf("etags differ for equivalent payloads: %v", tags)
	}
}

func TestNotModified(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.get("/abc/api/listEvents", "localhost", nil)
	etag := gjson.Get(first.Body.String(), "etag").String()

	t.Run("header", func(t *testing.T) {
		rec := f.get("/abc/api/listEvents", "localhost", http.Header{"If-None-Match": {`"` + etag + `"`}})
		if rec.Code != http.StatusNotModified {
			t.Fatalf("status = %d, want 304", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("304 has body %q", rec.Body)
		}
		if rec.Header().Get("ETag") == "" {
			t.Error("304 without ETag")
		}
	})

	t.Run("parameter", func(t *testing.T) {
		rec := f.get("/abc/api/listEvents?ifNoneMatch="+etag, "localhost", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := rec.Body.String()
		if !gjson.Get(body, "notModified").Bool() {
			t.Errorf("notModified missing: %s", body)
		}
		if gjson.Get(body, "value").Exists() {
			t.Errorf("not-modified envelope carries a value: %s", body)
		}
		if f.native.last(t).Params.Has("ifNoneMatch") {
			t.Error("ifNoneMatch forwarded to backend")
		}
	})

	t.Run("stale token", func(t *testing.T) {
		rec := f.get("/abc/api/listEvents?ifNoneMatch=stale", "localhost", nil)
		if gjson.Get(rec.Body.String(), "notModified").Bool() {
			t.Error("stale token matched")
		}
	})
}

func TestUnknownBrandIsBadInput(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, target := range []string{
		"/nonexistent-brand-xyz/events",
		"/nonexistent-brand-xyz/api/listEvents",
		"/api/listEvents?brand=nonexistent-brand-xyz",
	} {
		rec := f.get(target, "localhost", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
		if got := gjson.Get(rec.Body.String(), "code").String(); got != "BAD_INPUT" {
			t.Errorf("%s: code = %q", target, got)
		}
	}
	if f.native.calls()+f.legacy.calls() != 0 {
		t.Error("backend called for an unknown brand")
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, target := range []string{"/abc/nosuchpage", "/abc/api/deleteEvent", "/a/b/c/d", "/abc//events"} {
		rec := f.get(target, "localhost", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
		if got := gjson.Get(rec.Body.String(), "code").String(); got != "NOT_FOUND" {
			t.Errorf("%s: code = %q", target, got)
		}
	}
}

func TestBackendNotFoundPassesThrough(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.native.respond = func(context.Context, *backend.Request) ([]byte, error) {
		return nil, fmt.Errorf("lookup: %w", edgeerrors.NotFound("event e9 does not exist"))
	}
	rec := f.get("/abc/api/getPublicBundle?id=e9", "localhost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "message").String(); got != "event e9 does not exist" {
		t.Errorf("message = %q", got)
	}
}

func TestBackendOverride(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.get("/abc/api/listEvents?backend=legacy", "stg.eventangle.com", nil)
	if got := rec.Header().Get(backend.HeaderBackend); got != "legacy" {
		t.Errorf("staging override: backend = %q", got)
	}
	if got := rec.Header().Get(backend.HeaderSource); got != string(backend.QueryOverride) {
		t.Errorf("staging override: source = %q", got)
	}
	if f.legacy.last(t).Params.Has("backend") {
		t.Error("override parameter forwarded")
	}

	rec = f.get("/abc/api/listEvents?backend=legacy", "www.eventangle.com", nil)
	if got := rec.Header().Get(backend.HeaderBackend); got != "native" {
		t.Errorf("production: backend = %q, override must be ignored", got)
	}
	if got := rec.Header().Get(backend.HeaderSource); got == string(backend.QueryOverride) {
		t.Errorf("production: source = %q", got)
	}
}

func TestPinnedProductionIgnoresRequestHost(t *testing.T) {
	for _, trust := range []bool{false, true} {
		trust := trust
		t.Run(fmt.Sprintf("trust_request_host=%v", trust), func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.Environment = config.EnvProduction
				c.TrustRequestHost = trust
			}, nil)
			f.legacy.respond = func(context.Context, *backend.Request) ([]byte, error) {
				return nil, fmt.Errorf("sheet 42 stack: TypeError at Code.gs:812")
			}

			for _, host := range []string{"stg.eventangle.com", "evil.example", ""} {
				rec := f.get("/abc/api/listEvents?backend=legacy", host, nil)
				if got := rec.Header().Get(backend.HeaderBackend); got != "native" {
					t.Errorf("host %q: backend = %q", host, got)
				}
				if got := rec.Header().Get(backend.HeaderSource); got == string(backend.QueryOverride) {
					t.Errorf("host %q: source = %q", host, got)
				}
			}
			if n := f.legacy.calls(); n != 0 {
				t.Errorf("legacy backend called %d times", n)
			}
		})
	}
}

func TestUntrustedHostIsNotProduction(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.TrustRequestHost = false }, nil)
	f.native.respond = func(context.Context, *backend.Request) ([]byte, error) {
		return nil, fmt.Errorf("sheet 42 row parse failure")
	}
	rec := f.get("/abc/api/listEvents", "www.eventangle.com", nil)
	if got := gjson.Get(rec.Body.String(), "message").String(); !strings.Contains(got, "sheet 42") {
		t.Errorf("message = %q, want staging detail", got)
	}
}

func TestRouteTableSelection(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Backends.Routes = map[string]string{"/*/api/getPosterBundle": "legacy"}
	}, nil)
	rec := f.get("/cbc/api/getPosterBundle?id=e1", "www.eventangle.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(backend.HeaderSource); got != string(backend.RouteConfig) {
		t.Errorf("source = %q", got)
	}
	if f.legacy.calls() != 1 {
		t.Errorf("legacy calls = %d", f.legacy.calls())
	}
}

func TestFeatureDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Features.Brands = map[string]map[string]bool{"abc": {action.FeaturePoster: false}}
	}, nil)

	for _, target := range []string{"/abc/api/getPosterBundle?id=e1", "/abc/poster"} {
		rec := f.get(target, "localhost", nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", target, rec.Code)
		}
		body := rec.Body.String()
		if got := gjson.Get(body, "code").String(); got != "FEATURE_DISABLED" {
			t.Errorf("%s: code = %q", target, got)
		}
		if !strings.Contains(gjson.Get(body, "message").String(), action.FeaturePoster) {
			t.Errorf("%s: message does not name the feature: %s", target, body)
		}
	}
	if f.native.calls() != 0 {
		t.Error("backend called for a disabled feature")
	}

	if rec := f.get("/cbc/api/getPosterBundle?id=e1", "localhost", nil); rec.Code != http.StatusOK {
		t.Errorf("other brand: status = %d", rec.Code)
	}
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, Rate: 1, Period: time.Minute, Burst: 1}
	}, nil)

	if rec := f.get("/abc/api/listEvents", "localhost", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec := f.get("/abc/api/listEvents", "localhost", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "code").String(); got != "RATE_LIMITED" {
		t.Errorf("code = %q", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := f.get("/cbc/api/listEvents", "localhost", nil); rec.Code != http.StatusOK {
		t.Errorf("other brand limited: status = %d", rec.Code)
	}
	if got := f.edge.RateLimits()["abc"]; got.RateLimited != 1 || got.Allowed != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestAdminKey(t *testing.T) {
	f := newFixture(t, nil, map[string]string{"ADMIN_KEY_ABC": "s3cret", "SPREADSHEET_ID_ABC": "store-abc"})

	tests := []struct {
		name   string
		target string
		header http.Header
		status int
	}{
		{"missing", "/abc/api/getAdminBundle?id=e1", nil, http.StatusBadRequest},
		{"wrong", "/abc/api/getAdminBundle?id=e1", http.Header{HeaderAdminKey: {"nope"}}, http.StatusBadRequest},
		{"header", "/abc/api/getAdminBundle?id=e1", http.Header{HeaderAdminKey: {"s3cret"}}, http.StatusOK},
		{"parameter", "/abc/api/getAdminBundle?id=e1&adminKey=s3cret", nil, http.StatusOK},
		{"brand without secret", "/cbc/api/getAdminBundle?id=e1&adminKey=s3cret", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(tt.target, "localhost", tt.header)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.status == http.StatusBadRequest && strings.Contains(rec.Body.String(), "s3cret") {
				t.Error("secret leaked into response")
			}
		})
	}

	req := f.native.last(t)
	if req.AdminKey != "s3cret" || req.StoreID != "store-abc" {
		t.Errorf("backend request = %+v", req)
	}
	if req.Params.Has("adminKey") {
		t.Error("adminKey forwarded as a parameter")
	}
}

func TestEventIDValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, target := range []string{
		"/abc/api/getPublicBundle",
		"/abc/api/getPublicBundle?id=",
		"/abc/api/getPublicBundle?id=bad%20id",
		"/abc/api/getPublicBundle?id=" + strings.Repeat("x", 65),
	} {
		rec := f.get(target, "localhost", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
	if f.native.calls() != 0 {
		t.Error("backend called with an invalid event id")
	}
	if rec := f.get("/abc/api/getPublicBundle?id=evt_01-A", "localhost", nil); rec.Code != http.StatusOK {
		t.Errorf("valid id: status = %d", rec.Code)
	}
}

func TestContractViolation(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.native.respond = func(context.Context, *backend.Request) ([]byte, error) {
		return []byte(`{"rows":[]}`), nil
	}
	rec := f.get("/abc/api/listEvents", "localhost", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "code").String(); got != "CONTRACT" {
		t.Errorf("code = %q", got)
	}
}

func TestBackendTimeout(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.native.respond = func(context.Context, *backend.Request) ([]byte, error) {
		return nil, fmt.Errorf("call native: %w", context.DeadlineExceeded)
	}
	rec := f.get("/abc/api/listEvents", "www.eventangle.com", http.Header{HeaderRequestID: {"corr-7"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "message").String(); got != "backend timed out" {
		t.Errorf("message = %q", got)
	}
	if got := gjson.Get(body, "corrId").String(); got != "corr-7" {
		t.Errorf("corrId = %q", got)
	}
}

func TestInternalDetailsHiddenInProduction(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.native.respond = func(context.Context, *backend.Request) ([]byte, error) {
		return nil, fmt.Errorf("sheet 42 row parse failure")
	}

	prod := gjson.Get(f.get("/abc/api/listEvents", "www.eventangle.com", nil).Body.String(), "message").String()
	if strings.Contains(prod, "sheet 42") {
		t.Errorf("production message leaks details: %q", prod)
	}
	staging := gjson.Get(f.get("/abc/api/listEvents", "stg.eventangle.com", nil).Body.String(), "message").String()
	if !strings.Contains(staging, "sheet 42") {
		t.Errorf("staging message hides details: %q", staging)
	}
}

func TestClientCancelWritesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.native.respond = func(ctx context.Context, _ *backend.Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/abc/api/listEvents", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.edge.ServeHTTP(rec, req)

	if rec.Body.Len() != 0 {
		t.Errorf("body written after cancel: %q", rec.Body)
	}
	if rec.Header().Get("Content-Type") != "" {
		t.Error("headers written after cancel")
	}
}

func TestCoalescedReadCancelReachesBackend(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Cache.Enabled = true
		c.Cache.Coalesce = true
	}, nil)
	sawCancel := make(chan struct{})
	f.native.respond = func(ctx context.Context, _ *backend.Request) ([]byte, error) {
		select {
		case <-ctx.Done():
			close(sawCancel)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return []byte(eventsPayload), nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	req := httptest.NewRequest(http.MethodGet, "/abc/api/listEvents", nil).WithContext(ctx)
	req.Host = "localhost"
	f.edge.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("backend did not observe client cancellation")
	}
}

func TestCollaboratorsBoundedByBackendTimeout(t *testing.T) {
	hang := func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return []byte(`{}`), nil
		}
	}
	cfg := config.DefaultConfig()
	cfg.Backends.Legacy.Timeout = 50 * time.Millisecond
	cfg.Backends.Native.Timeout = 50 * time.Millisecond
	e, err := New(cfg, Options{
		Handlers: backend.Set{
			backend.Legacy: backend.HandlerFunc(func(ctx context.Context, _ *backend.Request) ([]byte, error) { return hang(ctx) }),
			backend.Native: backend.HandlerFunc(func(ctx context.Context, _ *backend.Request) ([]byte, error) { return hang(ctx) }),
		},
		Renderer: RendererFunc(func(ctx context.Context, _ PageRequest) ([]byte, error) { return hang(ctx) }),
		Snapshot: func() envsnap.Snapshot { return envsnap.FromMap(nil) },
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{"/abc/api/listEvents", "/abc/tv"} {
		start := time.Now()
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("%s: took %s", target, elapsed)
		}
		if got := gjson.Get(rec.Body.String(), "message").String(); got != "backend timed out" {
			t.Errorf("%s: message = %q", target, got)
		}
	}
}

func TestLegacyRedirect(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.get("/?p=admin&tenant=abc&id=e1", "localhost", nil)
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/abc/manage?id=e1" {
		t.Errorf("Location = %q", got)
	}
}

func TestPageDescriptor(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.get("/cbc/schedule", "localhost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	value := gjson.Get(rec.Body.String(), "value")
	checks := map[string]string{
		"page":              "public",
		"alias":             "schedule",
		"brand.id":          "cbc",
		"brand.parentBrand": "abc",
		"brandSource":       "path",
		"environment.name":  "local",
		"backend":           "native",
		"actions.0":         "getPublicBundle",
	}
	for path, want := range checks {
		if got := value.Get(path).String(); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if f.native.calls() != 0 {
		t.Error("page request invoked a backend")
	}
}

func TestRootUsesDefaultBrand(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.get("/", "localhost", nil)
	if got := gjson.Get(rec.Body.String(), "value.brand.id").String(); got != "root" {
		t.Errorf("brand = %q, want root", got)
	}
}

func TestCustomRenderer(t *testing.T) {
	cfg := config.DefaultConfig()
	e, err := New(cfg, Options{
		Logger: zap.NewNop(),
		Renderer: RendererFunc(func(_ context.Context, req PageRequest) ([]byte, error) {
			return []byte(fmt.Sprintf(`{"title":%q}`, req.Brand.Name)), nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc/tv", nil))
	if got := gjson.Get(rec.Body.String(), "value.title").String(); got != "American Bocce Co." {
		t.Errorf("title = %q", got)
	}
}

func TestUnconfiguredBackend(t *testing.T) {
	e, err := New(config.DefaultConfig(), Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc/api/listEvents", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMethods(t *testing.T) {
	f := newFixture(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/abc/api/listEvents", strings.NewReader("cursor=c2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.edge.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d", rec.Code)
	}
	if got := f.native.last(t).Params.Get("cursor"); got != "c2" {
		t.Errorf("form value not forwarded: %q", got)
	}

	rec = httptest.NewRecorder()
	f.edge.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/abc/api/listEvents", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE status = %d, want 400", rec.Code)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		f := newFixture(t, nil, map[string]string{"USE_PRODUCTION": "true"})
		rec := f.get("/abc/api/listEvents", "stg.eventangle.com", nil)
		if got := rec.Header().Get(HeaderEnvironment); got != "production" {
			t.Errorf("environment = %q", got)
		}
	})

	t.Run("untrusted header", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.get("/abc/api/listEvents", "localhost", http.Header{"X-Edge-Env": {"production"}})
		if got := rec.Header().Get(HeaderEnvironment); got != "local" {
			t.Errorf("environment = %q, header must be ignored", got)
		}
	})

	t.Run("trusted header", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.TrustOverrideHeaders = true }, nil)
		rec := f.get("/abc/api/listEvents", "localhost", http.Header{"X-Edge-Env": {"production"}})
		if got := rec.Header().Get(HeaderEnvironment); got != "production" {
			t.Errorf("environment = %q", got)
		}
	})
}

func TestLegacyEndpointFromEnvironment(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		stg := c.Environments[config.EnvStaging]
		stg.LegacyExecURL = "https://script.google.com/macros/s/stg/exec"
		c.Environments[config.EnvStaging] = stg
	}, nil)
	f.get("/abc/api/listEvents?backend=legacy", "stg.eventangle.com", nil)
	if got := f.legacy.last(t).Endpoint; got != "https://script.google.com/macros/s/stg/exec" {
		t.Errorf("endpoint = %q", got)
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t, nil, nil)
	if rec := f.get("/abc/api/getPosterBundle?id=e1", "localhost", nil); rec.Code != http.StatusOK {
		t.Fatalf("before reload: status = %d", rec.Code)
	}

	next := config.DefaultConfig()
	next.Features.Defaults = map[string]bool{action.FeaturePoster: false}
	result := f.edge.Reload(next)
	if !result.Success {
		t.Fatalf("Reload() = %+v", result)
	}
	if len(result.Changes) != 1 || result.Changes[0] != "features" {
		t.Errorf("changes = %v, want [features]", result.Changes)
	}
	if rec := f.get("/abc/api/getPosterBundle?id=e1", "localhost", nil); rec.Code != http.StatusForbidden {
		t.Errorf("after reload: status = %d, want 403", rec.Code)
	}

	bad := config.DefaultConfig()
	bad.Brands.Default = "nope"
	if result := f.edge.Reload(bad); result.Success || result.Error == "" {
		t.Errorf("invalid reload accepted: %+v", result)
	}
	if f.edge.Config() != next {
		t.Error("failed reload replaced the running config")
	}
}

func TestExplain(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Features.Defaults = map[string]bool{action.FeaturePoster: false}
	}, nil)

	got := f.edge.Explain("/abc/api/getPosterBundle", url.Values{"backend": {"legacy"}}, "", "stg.eventangle.com", nil)
	if got.Error != nil {
		t.Fatalf("Explain error = %v", got.Error)
	}
	if got.Action != "getPosterBundle" || got.Feature != action.FeaturePoster || got.Enabled {
		t.Errorf("explanation = %+v", got)
	}
	if got.Decision.Backend != backend.Legacy || got.Decision.Provenance != backend.QueryOverride {
		t.Errorf("decision = %+v", got.Decision)
	}
	if got.Environment.Name != "staging" {
		t.Errorf("environment = %q", got.Environment.Name)
	}
	if f.legacy.calls() != 0 {
		t.Error("Explain invoked a backend")
	}

	bad := f.edge.Explain("/nonexistent-brand-xyz/events", nil, "", "", nil)

	prod := f.edge.Explain("/abc/api/listEvents", url.Values{"backend": {"legacy"}}, "production", "stg.eventangle.com", nil)
	if prod.Environment.Name != "production" || prod.Decision.Backend != backend.Native {
		t.Errorf("production explanation = %+v, %+v", prod.Environment, prod.Decision)
	}
	if bad.Error == nil || bad.Error.Code != "BAD_INPUT" {
		t.Errorf("error = %v", bad.Error)
	}
}
