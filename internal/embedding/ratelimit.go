package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-side throttling of embedding calls.
type RateLimitConfig struct {
	// RequestsPerMinute limits API calls per minute (0 = unlimited).
	RequestsPerMinute int
	// BurstSize allows temporary bursts above the steady rate.
	BurstSize int
}

// RateLimitProvider throttles calls to the wrapped provider.
type RateLimitProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitProvider wraps inner with a token bucket built from config.
func NewRateLimitProvider(inner Provider, config RateLimitConfig) *RateLimitProvider {
	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitProvider) Name() string    { return r.inner.Name() }
func (r *RateLimitProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *RateLimitProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.inner.Embed(ctx, text)
}
