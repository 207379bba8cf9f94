package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry defaults; overridable via RETRY_LIMIT / RETRY_BACKOFF.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 1 * time.Second
	DefaultRetryCap      = 30 * time.Second
)

// RetryConfig bounds retries of external HTTP calls.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Base is the initial backoff delay; subsequent delays double, capped at
	// Cap. No jitter, so the k-th delay is exactly base * 2^(k-1) (capped).
	Base time.Duration

	// Cap clamps an individual delay.
	Cap time.Duration
}

// withDefaults fills zero fields.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultRetryAttempts
	}
	if c.Base <= 0 {
		c.Base = DefaultRetryBase
	}
	if c.Cap <= 0 {
		c.Cap = DefaultRetryCap
	}
	return c
}

// retryResult runs op under the configured retry policy and returns its last
// result. Cancelling ctx aborts between attempts.
func retryResult[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Base
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = cfg.Cap

	return backoff.Retry(ctx, backoff.Operation[T](op),
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(cfg.Attempts)),
	)
}
