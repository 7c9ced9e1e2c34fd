// SPDX-License-Identifier: MIT

// Package ratelimit implements fixed-window request counters per key class,
// backed by Redis with an in-memory per-process fallback.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// Class is a preconfigured limit bucket.
type Class struct {
	Name   string
	Window time.Duration
	Limit  int
}

// Preconfigured classes protecting the expensive pipeline paths.
var (
	ClassTTS = Class{Name: "tts", Window: 15 * time.Minute, Limit: 10}
	ClassLLM = Class{Name: "llm", Window: time.Hour, Limit: 20}
	ClassAPI = Class{Name: "api", Window: 15 * time.Minute, Limit: 100}
)

// Decision is the outcome of an Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    int64 // epoch seconds when the current window expires
	RetryAfter int   // seconds until retry is worthwhile; 0 when allowed
}

// Limiter counts requests in fixed windows. When Redis is configured the
// counter increment is atomic across all workers; when it is unreachable the
// limiter degrades to per-process counters, which temporarily weakens global
// limits. The degradation is logged.
type Limiter struct {
	client *redis.Client // nil when Redis is not configured
	local  *localCounters
	logger zerolog.Logger
}

// New creates a Limiter. client may be nil.
func New(client *redis.Client, logger zerolog.Logger) *Limiter {
	return &Limiter{
		client: client,
		local:  newLocalCounters(),
		logger: logger,
	}
}

// Key derives the limiter key for a class: per-user when authenticated,
// otherwise per-IP.
func Key(class Class, userID, ip string) string {
	if userID != "" {
		return fmt.Sprintf("%s:user:%s", class.Name, userID)
	}
	return fmt.Sprintf("%s:ip:%s", class.Name, ip)
}

// AllowClass applies a preconfigured class to the caller identity.
func (l *Limiter) AllowClass(ctx context.Context, class Class, userID, ip string) Decision {
	d := l.Allow(ctx, Key(class, userID, ip), class.Window, class.Limit)
	if !d.Allowed {
		metrics.RateLimitExceededTotal.WithLabelValues(class.Name).Inc()
	}
	return d
}

// Allow increments the fixed-window counter for key and reports whether the
// request is within limit. When the window has expired a new one starts at
// count 1.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) Decision {
	if l.client != nil {
		d, err := l.allowRedis(ctx, key, window, limit)
		if err == nil {
			return d
		}
		metrics.CacheFallbackTotal.WithLabelValues("ratelimit").Inc()
		logger := log.WithContext(ctx, l.logger)
		logger.Warn().Err(err).
			Str(log.FieldCacheKey, key).
			Msg("redis unreachable, rate limiting degraded to per-process counters")
	}
	return l.local.allow(key, window, limit)
}

// allowRedis uses an atomic INCR plus EXPIRE-if-no-TTL so that the
// read-then-write is race-free across workers.
func (l *Limiter) allowRedis(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	rkey := "rl:" + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.ExpireNX(ctx, rkey, window)
	ttl := pipe.PTTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	resetIn := ttl.Val()
	if resetIn < 0 {
		resetIn = window
	}
	resetAt := time.Now().Add(resetIn).Unix()

	if count > limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: int(resetIn.Seconds()) + 1,
		}, nil
	}
	return Decision{Allowed: true, Remaining: limit - count, ResetAt: resetAt}, nil
}
