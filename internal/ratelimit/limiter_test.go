// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "tts:user:u1", Key(ClassTTS, "u1", "1.2.3.4"))
	assert.Equal(t, "tts:ip:1.2.3.4", Key(ClassTTS, "", "1.2.3.4"))
}

func TestLocal_ExactLimitBoundary(t *testing.T) {
	l := New(nil, zerolog.Nop())
	ctx := context.Background()

	const limit = 5
	for i := 0; i < limit; i++ {
		d := l.Allow(ctx, "k", time.Minute, limit)
		require.True(t, d.Allowed, "request %d within limit must pass", i+1)
		assert.Equal(t, limit-i-1, d.Remaining)
	}

	d := l.Allow(ctx, "k", time.Minute, limit)
	assert.False(t, d.Allowed, "request beyond limit must be denied")
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, 0)
}

func TestLocal_WindowExpiryStartsFresh(t *testing.T) {
	l := New(nil, zerolog.Nop())
	ctx := context.Background()

	d := l.Allow(ctx, "k", 30*time.Millisecond, 1)
	require.True(t, d.Allowed)
	d = l.Allow(ctx, "k", 30*time.Millisecond, 1)
	require.False(t, d.Allowed)

	time.Sleep(40 * time.Millisecond)

	d = l.Allow(ctx, "k", 30*time.Millisecond, 1)
	assert.True(t, d.Allowed, "new window must start at count 1")
}

func TestRedis_AtomicWindow(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(client, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Allow(ctx, "k", time.Minute, 3)
		require.True(t, d.Allowed)
	}
	d := l.Allow(ctx, "k", time.Minute, 3)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, 0)

	// New window after expiry.
	mr.FastForward(2 * time.Minute)
	d = l.Allow(ctx, "k", time.Minute, 3)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisDown_FallsBackToLocal(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(client, zerolog.Nop())
	ctx := context.Background()

	mr.Close()

	d := l.AllowClass(ctx, ClassTTS, "u1", "")
	assert.True(t, d.Allowed, "fallback counters must keep serving when redis is down")
}
