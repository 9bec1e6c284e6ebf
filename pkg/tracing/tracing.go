package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "rangeview"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// Init initializes tracing. A disabled config leaves the global no-op provider in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.TraceIDRatioBased(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common span attributes
var (
	CameraIDKey  = attribute.Key("camera.id")
	SessionIDKey = attribute.Key("session.id")
	AttemptKey   = attribute.Key("retry.attempt")
	StateKey     = attribute.Key("link.state")
)

// TraceHTTPRequest traces a control surface request
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

// TraceNegotiation traces one offer/answer exchange for a camera
func TraceNegotiation(ctx context.Context, cameraID string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, "webrtc.negotiate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			CameraIDKey.String(cameraID),
			AttemptKey.Int(attempt),
		),
	)
}

// TraceChannelDial traces one event channel connect handshake
func TraceChannelDial(ctx context.Context, cameraID string, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, "events.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			CameraIDKey.String(cameraID),
			AttemptKey.Int(attempt),
		),
	)
}

// TraceGeometryPoll traces one legacy corner fetch
func TraceGeometryPoll(ctx context.Context, cameraID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "geometry.poll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(CameraIDKey.String(cameraID)),
	)
}
