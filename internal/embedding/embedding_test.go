package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockProvider returns the scripted results in order, then repeats the last.
type mockProvider struct {
	mu      sync.Mutex
	dims    int
	results []mockResult
	calls   int
}

type mockResult struct {
	vec []float32
	err error
}

func (m *mockProvider) Name() string    { return "mock" }
func (m *mockProvider) Dimensions() int { return m.dims }

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	m.calls++
	r := m.results[idx]
	return r.vec, r.err
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestRetryProvider_SucceedsFirstTry(t *testing.T) {
	inner := &mockProvider{dims: 2, results: []mockResult{{vec: []float32{1, 0}}}}
	p := NewRetryProvider(inner, fastRetry(3))

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("expected 2 values, got %d", len(vec))
	}
	if inner.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", inner.callCount())
	}
}

func TestRetryProvider_RetriesTransient(t *testing.T) {
	inner := &mockProvider{dims: 2, results: []mockResult{
		{err: errors.New("openai: 503 Service Unavailable")},
		{err: errors.New("openai: 429 Too Many Requests")},
		{vec: []float32{0, 1}},
	}}
	p := NewRetryProvider(inner, fastRetry(3))

	if _, err := p.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", inner.callCount())
	}
}

func TestRetryProvider_ExhaustedIsUnavailable(t *testing.T) {
	inner := &mockProvider{dims: 2, results: []mockResult{{err: errors.New("502 Bad Gateway")}}}
	p := NewRetryProvider(inner, fastRetry(2))

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", inner.callCount())
	}
}

func TestRetryProvider_NonRetryableStopsImmediately(t *testing.T) {
	inner := &mockProvider{dims: 2, results: []mockResult{{err: errors.New("401 Unauthorized")}}}
	p := NewRetryProvider(inner, fastRetry(5))

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if inner.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", inner.callCount())
	}
}

func TestRetryProvider_CanceledContext(t *testing.T) {
	inner := &mockProvider{dims: 2, results: []mockResult{{err: errors.New("500 Internal Server Error")}}}
	p := NewRetryProvider(inner, fastRetry(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Embed(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrEmbeddingUnavailable) {
		t.Error("cancellation must not be reported as unavailability")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{ErrDimensionMismatch, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("500 Internal Server Error"), true},
		{errors.New("504"), true},
		{errors.New("400 Bad Request"), false},
		{errors.New("404 Not Found"), false},
		{errors.New("connection reset by peer"), true},
		{errors.New("openai embed: API returned unexpected status code: 401: invalid key"), false},
		{errors.New("openai embed: API returned unexpected status code: 503: overloaded"), true},
		{errors.New("status=408"), true},
		{errors.New("request req_4001 failed after 5000ms"), true},
		{errors.New("dial tcp 10.0.0.4:4040: connection refused"), true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDimensionGuard(t *testing.T) {
	inner := &mockProvider{dims: 3, results: []mockResult{{vec: []float32{1, 2}}}}
	g := NewDimensionGuard(inner)

	_, err := g.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	inner.results = []mockResult{{vec: []float32{1, 2, 3}}}
	inner.calls = 0
	vec, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 values, got %d", len(vec))
	}
}

func TestRateLimitProvider_Unlimited(t *testing.T) {
	inner := &mockProvider{dims: 1, results: []mockResult{{vec: []float32{1}}}}
	p := NewRateLimitProvider(inner, RateLimitConfig{})

	for i := 0; i < 50; i++ {
		if _, err := p.Embed(context.Background(), "x"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimitProvider_BlocksUntilContextDone(t *testing.T) {
	inner := &mockProvider{dims: 1, results: []mockResult{{vec: []float32{1}}}}
	p := NewRateLimitProvider(inner, RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	if _, err := p.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "second"); err == nil {
		t.Fatal("expected second call to be throttled")
	}
	if inner.callCount() != 1 {
		t.Errorf("throttled call must not reach the backend, got %d calls", inner.callCount())
	}
}

func TestFactory_Create(t *testing.T) {
	f := NewFactory()
	f.Register("mock", func(cfg ProviderConfig) (Provider, error) {
		return &mockProvider{dims: cfg.Dimensions, results: []mockResult{{vec: []float32{1, 2}}}}, nil
	})

	p, err := f.Create(ProviderConfig{Provider: "mock", Dimensions: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "mock" || p.Dimensions() != 2 {
		t.Errorf("unexpected provider %s/%d", p.Name(), p.Dimensions())
	}
	if _, ok := p.(*DimensionGuard); !ok {
		t.Errorf("expected outermost wrapper to be the dimension guard, got %T", p)
	}

	if _, err := f.Create(ProviderConfig{Provider: "nope", Dimensions: 2}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := f.Create(ProviderConfig{Provider: "mock"}); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
