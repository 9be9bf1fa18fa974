// Package tracing wires OpenTelemetry into the edge: a server span per
// request and the global provider the backend handlers start client spans
// from.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/middleware"
	"github.com/zeventbooks/eventangle-edge/internal/variables"
)

const (
	defaultServiceName = "eventangle-edge"
	instrumentation    = "github.com/zeventbooks/eventangle-edge"
)

// Tracer provides distributed tracing functionality via OpenTelemetry
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a new Tracer from config. A disabled tracer is a no-op.
func New(cfg config.TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{}, nil
	}

	opts := []otlptracegrpc.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	return newTracer(cfg, sdktrace.WithBatcher(exporter))
}

func newTracer(cfg config.TracingConfig, processor sdktrace.TracerProviderOption) (*Tracer, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	t := &Tracer{enabled: true}
	t.provider = sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(t.provider)

	t.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(t.propagator)

	t.tracer = t.provider.Tracer(instrumentation)
	return t, nil
}

// IsEnabled returns whether tracing is enabled
func (t *Tracer) IsEnabled() bool {
	return t != nil && t.enabled
}

// Middleware returns a middleware that creates a server span per request.
// Edge decisions recorded in the variables context become span attributes.
func (t *Tracer) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		if !t.IsEnabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			if span.SpanContext().HasTraceID() {
				w.Header().Set("X-Trace-ID", span.SpanContext().TraceID().String())
			}

			tw := &tracingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(tw, r)

			span.SetAttributes(semconv.HTTPResponseStatusCode(tw.statusCode))
			if vc := variables.FromContext(ctx); vc != nil {
				span.SetAttributes(decisionAttributes(vc)...)
			}
			if tw.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(tw.statusCode))
			}
		})
	}
}

func decisionAttributes(vc *variables.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	add := func(key, val string) {
		if val != "" {
			attrs = append(attrs, attribute.String(key, val))
		}
	}
	add("edge.brand", vc.Brand)
	add("edge.environment", vc.Environment)
	add("edge.page", vc.Page)
	add("edge.action", vc.Action)
	add("edge.backend", vc.Backend)
	add("edge.backend_source", vc.Provenance)
	add("edge.code", vc.Code)
	return attrs
}

// StartSpan creates a child span in the given context
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if !t.IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name)
}

// Close flushes pending spans and shuts down the provider.
func (t *Tracer) Close(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Status returns the tracing status for the admin API
func (t *Tracer) Status() map[string]interface{} {
	return map[string]interface{}{
		"enabled": t.IsEnabled(),
	}
}

// tracingWriter wraps ResponseWriter to capture status code
type tracingWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (tw *tracingWriter) WriteHeader(code int) {
	if !tw.wroteHeader {
		tw.statusCode = code
		tw.wroteHeader = true
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *tracingWriter) Write(b []byte) (int, error) {
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

func (tw *tracingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *tracingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
