// SPDX-License-Identifier: MIT

// Package resilience provides retry with backoff and a circuit breaker for
// the external LLM and TTS edges.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig shapes the exponential backoff schedule.
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // first backoff step
	Factor     float64       // multiplier per attempt
}

// DefaultRetry matches the provider-edge policy: 2 retries, base 500ms,
// factor 2, full jitter.
func DefaultRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, Factor: 2}
}

// Retry runs fn until it succeeds, retries are exhausted, or ctx is done.
// Backoff uses full jitter: each sleep is uniform in [0, base*factor^n).
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var err error
	delay := cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || ctx.Err() != nil {
			return err
		}

		sleep := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}
}
