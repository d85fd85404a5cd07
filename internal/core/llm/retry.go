package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMultiplier   = 2.0
	defaultJitter       = 0.2
)

// RetryPolicy controls retries of transient model failures. Only errors
// matching Retryable are retried; everything else surfaces immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	Jitter       float64
	Retryable    func(error) bool
}

// DefaultRetryPolicy returns the standard policy: a small fixed number of
// attempts with exponential backoff and jitter.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		Multiplier:   defaultMultiplier,
		Jitter:       defaultJitter,
		Retryable:    retryable,
	}
}

// Do runs fn up to MaxAttempts times. Each attempt runs to completion so
// the caller can ledger billed work inside fn before the next attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	delay := p.InitialDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry interrupted: %w", ctx.Err())
			case <-time.After(p.withJitter(delay)):
				delay = time.Duration(float64(delay) * p.multiplier())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (p RetryPolicy) multiplier() float64 {
	if p.Multiplier <= 1 {
		return defaultMultiplier
	}

	return p.Multiplier
}

// withJitter spreads delays so concurrent workers don't retry in lockstep.
func (p RetryPolicy) withJitter(d time.Duration) time.Duration {
	jitter := p.Jitter
	if jitter <= 0 {
		return d
	}

	span := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * span //nolint:gosec // jitter does not need crypto randomness

	return time.Duration(float64(d) + offset)
}
