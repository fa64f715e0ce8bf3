package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// RateLimiterConfig tunes the RateLimitedProvider decorator.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// DefaultRateLimiterConfig returns the limits applied when the environment
// configures none.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             10,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
	}
}

// RateLimitedProvider wraps a Provider with a token-bucket rate limit and
// exponential-backoff retries. Errors a provider marks non-retryable are
// returned immediately.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	cfg     RateLimiterConfig
}

// NewRateLimitedProvider builds the decorator. Zero config fields fall back
// to defaults; negative ones are rejected.
func NewRateLimitedProvider(inner Provider, cfg RateLimiterConfig) (*RateLimitedProvider, error) {
	if cfg.RequestsPerMinute < 0 || cfg.Burst < 0 || cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("rate limiter: negative limits not allowed: %+v", cfg)
	}
	def := DefaultRateLimiterConfig()
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Burst == 0 {
		cfg.Burst = def.Burst
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		cfg:     cfg,
	}, nil
}

// Name returns the inner provider name prefixed with "ratelimited:".
func (p *RateLimitedProvider) Name() string {
	return "ratelimited:" + p.inner.Name()
}

// DefaultModel delegates to the inner provider.
func (p *RateLimitedProvider) DefaultModel() string {
	return p.inner.DefaultModel()
}

// Complete waits for a rate-limit token, then delegates. Failed calls retry
// up to MaxRetries times with doubling backoff capped at MaxBackoff.
func (p *RateLimitedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	backoff := p.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := p.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var provErr *types.ProviderError
		if errors.As(err, &provErr) && !provErr.Retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("rate limiter: %d attempts exhausted: %w", p.cfg.MaxRetries+1, lastErr)
}
