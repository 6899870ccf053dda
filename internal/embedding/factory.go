package embedding

import (
	"fmt"
	"sort"
	"time"
)

// ProviderConfig holds everything needed to build any embedding provider.
type ProviderConfig struct {
	Provider   string // "openai", "ollama", "fake", ...
	APIKey     string
	Model      string
	BaseURL    string // Override for self-hosted / compatible endpoints
	Dimensions int

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	RequestsPerMinute int
	BurstSize         int
}

// Constructor builds a Provider from config.
type Constructor func(cfg ProviderConfig) (Provider, error)

// Factory creates providers by name.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// Create builds the configured provider and wraps it, innermost first, with
// rate limiting, retries and the dimension guard.
func (f *Factory) Create(cfg ProviderConfig) (Provider, error) {
	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (registered: %v)", cfg.Provider, f.names())
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding provider %q: dimensions must be positive, got %d", cfg.Provider, cfg.Dimensions)
	}

	p, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider %q: %w", cfg.Provider, err)
	}

	p = NewRateLimitProvider(p, RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.BurstSize,
	})

	retry := DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelay > 0 {
		retry.RetryDelay = cfg.RetryDelay
	}
	if cfg.Timeout > 0 {
		retry.Timeout = cfg.Timeout
	}
	p = NewRetryProvider(p, retry)

	return NewDimensionGuard(p), nil
}

func (f *Factory) names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
