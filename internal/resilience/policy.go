package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/verifin/recon-cli/internal/config"
)

// Policy is how calls to one upstream service are protected: a retry
// schedule, and optionally a circuit breaker shared by every caller of that
// service.
type Policy struct {
	Service string
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewPolicy builds the policy for service, taking its breaker from breakers
// (nil means no breaker).
func NewPolicy(service string, retry RetryConfig, breakers *Breakers) Policy {
	return Policy{Service: service, Retry: retry, Breaker: breakers.Get(service)}
}

// Call runs fn under p. Every attempt goes through the breaker; an open
// circuit ends the retry loop immediately.
func Call[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := p.Retry
	base := cfg.ShouldRetry
	if base == nil {
		base = IsTransient
	}
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && base(err)
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(p.Service, operation)
	}

	return DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}

// FromConfig converts the retry section of the application config.
func FromConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		cfg.JitterFraction = c.JitterFraction
	}
	return cfg
}
