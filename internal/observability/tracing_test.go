package observability

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg.ServiceName != "kindred" {
		t.Fatalf("expected service name 'kindred', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestIngestSpans(t *testing.T) {
	ctx, batch := StartIngestSpan(context.Background(), 3)
	if batch == nil {
		t.Fatal("expected non-nil span")
	}

	_, rec := StartRecordSpan(ctx, 42)
	RecordError(rec, errors.New("embedding unavailable"))
	rec.End()

	RecordIngestResult(batch, 2, 0, 1, 0)
	batch.End()
}

func TestMatchAndEmbedSpans(t *testing.T) {
	ctx, match := StartMatchSpan(context.Background(), 1, 10, 0.5)
	_, embed := StartEmbedSpan(ctx, "fake", 8)
	embed.End()

	RecordMatchResult(match, 4)
	RecordError(match, nil)
	match.End()
}

func TestTracerProvider_Shutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil provider, got: %v", err)
	}
}
