// Package observability provides OpenTelemetry tracing, metrics and log setup
// for kindred.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the kindred tracer.
const TracerName = "github.com/efebarandurmaz/kindred"

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0).
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "kindred",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

const (
	SpanKindIngest = "ingest"
	SpanKindRecord = "ingest_record"
	SpanKindEmbed  = "embed"
	SpanKindMatch  = "match"
)

// StartIngestSpan starts a span covering one ingestion batch.
func StartIngestSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kindred.span.kind", SpanKindIngest),
			attribute.Int("ingest.batch_size", batchSize),
		),
	)
}

// RecordIngestResult sets the batch outcome counts on span.
func RecordIngestResult(span trace.Span, created, skipped, failed, notAttempted int) {
	span.SetAttributes(
		attribute.Int("ingest.created", created),
		attribute.Int("ingest.skipped", skipped),
		attribute.Int("ingest.failed", failed),
		attribute.Int("ingest.not_attempted", notAttempted),
	)
}

// StartRecordSpan starts a span for processing a single profile.
func StartRecordSpan(ctx context.Context, userID int64) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest.record",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kindred.span.kind", SpanKindRecord),
			attribute.Int64("profile.user_id", userID),
		),
	)
}

// StartEmbedSpan starts a span for an embedding provider call.
func StartEmbedSpan(ctx context.Context, provider string, dims int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "embedding.embed",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kindred.span.kind", SpanKindEmbed),
			attribute.String("embedding.provider", provider),
			attribute.Int("embedding.dimensions", dims),
		),
	)
}

// StartMatchSpan starts a span for one match request.
func StartMatchSpan(ctx context.Context, userID int64, k int, threshold float64) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "match.find",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kindred.span.kind", SpanKindMatch),
			attribute.Int64("profile.user_id", userID),
			attribute.Int("match.k", k),
			attribute.Float64("match.threshold", threshold),
		),
	)
}

// RecordMatchResult sets the number of matches returned.
func RecordMatchResult(span trace.Span, count int) {
	span.SetAttributes(attribute.Int("match.count", count))
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
