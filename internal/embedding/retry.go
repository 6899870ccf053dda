package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retry behavior for embedding calls.
type RetryConfig struct {
	MaxRetries int           // Retry attempts after the first call (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Caps exponential backoff
	Timeout    time.Duration // Per-attempt timeout
}

// DefaultRetryConfig returns the defaults used when nothing is configured.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// RetryProvider wraps a Provider with timeout and retry logic. Exhausted or
// non-retryable failures are reported as ErrEmbeddingUnavailable.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps inner. A nil config uses DefaultRetryConfig.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{inner: inner, config: config}
}

func (r *RetryProvider) Name() string    { return r.inner.Name() }
func (r *RetryProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *RetryProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.RetryDelay
	b.MaxInterval = r.config.MaxDelay

	attempt := func() ([]float32, error) {
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		vec, err := r.inner.Embed(attemptCtx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	vec, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.config.MaxRetries+1)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingUnavailable, r.inner.Name(), err)
	}
	return vec, nil
}

func (r *RetryProvider) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.Timeout)
}

// IsRetryable reports whether err looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// HTTP status codes only surface in error text for OpenAI-compatible clients.
	if code, ok := httpStatus(err.Error()); ok {
		return code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests ||
			code >= http.StatusInternalServerError
	}
	return true
}

// statusPattern matches a status code leading the message ("429 Too Many
// Requests") or following a status label ("status code: 503", "status=401").
var statusPattern = regexp.MustCompile(`(?i)(?:^|\bstatus(?:[ _]?code)?\s*[:=]?\s*)([1-5][0-9]{2})\b`)

func httpStatus(msg string) (int, bool) {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	return code, err == nil
}
