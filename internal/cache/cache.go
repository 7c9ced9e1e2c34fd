// SPDX-License-Identifier: MIT

// Package cache provides a TTL cache with a single-flight loader over a
// pluggable KV backing store.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// Store is the capability interface over a KV backing store.
type Store interface {
	// Get retrieves a value. The second return is false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetEx stores a value with the given TTL.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes a single key.
	Del(ctx context.Context, key string) error
	// DelPrefix removes all keys starting with prefix.
	DelPrefix(ctx context.Context, prefix string) error
	// Healthy reports whether the store is reachable.
	Healthy(ctx context.Context) error
}

// Loader produces the value for a key on cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// loadTimeout bounds a detached loader flight.
const loadTimeout = 10 * time.Second

// Cache is a TTL cache with single-flight loading. When a primary (networked)
// store is configured and fails transiently, operations downgrade to the
// in-memory fallback without failing the call.
type Cache struct {
	primary  Store // nil when Redis is not configured
	fallback Store
	group    singleflight.Group
}

// New creates a Cache. primary may be nil; fallback must not be.
func New(primary, fallback Store) *Cache {
	return &Cache{primary: primary, fallback: fallback}
}

// GetOrLoad returns the cached value for key, invoking loader on miss.
// Concurrent calls for the same key share a single loader invocation.
// Loader errors propagate and are never cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) ([]byte, error) {
	if val, ok := c.get(ctx, key); ok {
		return val, nil
	}

	// The flight runs detached from the leader so that one cancelled caller
	// does not poison the load for the waiters sharing it.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		// Re-check inside the flight: a concurrent winner may have stored already.
		if val, ok := c.get(fctx, key); ok {
			return val, nil
		}
		val, err := loader(fctx)
		if err != nil {
			return nil, err
		}
		c.set(fctx, key, val, ttl)
		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate removes a single key from all stores.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.primary != nil {
		if err := c.primary.Del(ctx, key); err != nil {
			logger := log.WithComponentFromContext(ctx, "cache")
			logger.Warn().Err(err).
				Str(log.FieldCacheKey, key).Msg("primary delete failed")
		}
	}
	_ = c.fallback.Del(ctx, key)
}

// InvalidatePrefix removes all keys starting with prefix from all stores.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c.primary != nil {
		if err := c.primary.DelPrefix(ctx, prefix); err != nil {
			logger := log.WithComponentFromContext(ctx, "cache")
			logger.Warn().Err(err).
				Str(log.FieldCacheKey, prefix).Msg("primary prefix delete failed")
		}
	}
	_ = c.fallback.DelPrefix(ctx, prefix)
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	if c.primary != nil {
		val, ok, err := c.primary.Get(ctx, key)
		if err == nil {
			return val, ok
		}
		metrics.CacheFallbackTotal.WithLabelValues("get").Inc()
		logger := log.WithComponentFromContext(ctx, "cache")
		logger.Warn().Err(err).
			Str(log.FieldCacheKey, key).Msg("primary store unavailable, using in-memory fallback")
	}
	val, ok, _ := c.fallback.Get(ctx, key)
	return val, ok
}

func (c *Cache) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.primary != nil {
		err := c.primary.SetEx(ctx, key, value, ttl)
		if err == nil {
			return
		}
		metrics.CacheFallbackTotal.WithLabelValues("set").Inc()
		logger := log.WithComponentFromContext(ctx, "cache")
		logger.Warn().Err(err).
			Str(log.FieldCacheKey, key).Msg("primary store unavailable, writing to in-memory fallback")
	}
	_ = c.fallback.SetEx(ctx, key, value, ttl)
}
