package summarizer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/koladefaj/document-intelligence-backend/config"
)

// RetryPolicy is exponential backoff for rate-limited backend calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2,
	}
}

func retryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// newBackOff builds the wait schedule for one summarization: no jitter, no
// elapsed-time cap, MaxAttempts-1 waits at most.
func (p RetryPolicy) newBackOff() *rateLimitBackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return &rateLimitBackOff{
		BackOff: backoff.WithMaxRetries(exp, uint64(retries)),
		max:     p.MaxInterval,
	}
}

// withContext stops the schedule once ctx is done.
func (b *rateLimitBackOff) withContext(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(b, ctx)
}

// rateLimitBackOff lets a provider's Retry-After stretch the next wait, as
// long as it stays within the policy's MaxInterval.
type rateLimitBackOff struct {
	backoff.BackOff
	max  time.Duration
	hint time.Duration
}

// RetryAfter records the wait the provider asked for before the next call.
func (b *rateLimitBackOff) RetryAfter(d time.Duration) {
	b.hint = d
}

func (b *rateLimitBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	hint := b.hint
	b.hint = 0
	if next == backoff.Stop {
		return next
	}
	if hint > next && hint <= b.max {
		return hint
	}
	return next
}

func (b *rateLimitBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}
