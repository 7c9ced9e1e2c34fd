// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisStoreFromClient(client, zerolog.Nop())
}

func TestMemoryStore_SetGetExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.SetEx(ctx, "k", []byte("v"), 50*time.Millisecond))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	time.Sleep(60 * time.Millisecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestMemoryStore_DelPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_ = s.SetEx(ctx, "audio:a:1", []byte("1"), time.Minute)
	_ = s.SetEx(ctx, "audio:a:2", []byte("2"), time.Minute)
	_ = s.SetEx(ctx, "prefs:u1", []byte("3"), time.Minute)

	require.NoError(t, s.DelPrefix(ctx, "audio:"))

	_, ok, _ := s.Get(ctx, "audio:a:1")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "prefs:u1")
	assert.True(t, ok)
}

func TestRedisStore_SetGet(t *testing.T) {
	mr, s := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	// Expiry honoured via miniredis clock
	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_GetOrLoad_SingleFlight(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemoryStore(0))

	var loads atomic.Int32
	gate := make(chan struct{})

	loader := func(context.Context) ([]byte, error) {
		loads.Add(1)
		<-gate
		return []byte("loaded"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := c.GetOrLoad(ctx, "flight", time.Minute, loader)
			require.NoError(t, err)
			results[i] = val
		}(i)
	}

	// Give all goroutines time to pile onto the flight, then release.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load(), "concurrent callers must share one loader invocation")
	for _, r := range results {
		assert.Equal(t, []byte("loaded"), r)
	}
}

func TestCache_GetOrLoad_CallerCancelDoesNotAbortLoad(t *testing.T) {
	c := New(nil, NewMemoryStore(0))

	entered := make(chan struct{})
	release := make(chan struct{})
	loader := func(context.Context) ([]byte, error) {
		close(entered)
		<-release
		return []byte("v"), nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(leaderCtx, "k", time.Minute, loader)
		leaderErr <- err
	}()
	<-entered // loader is in flight

	waiterVal := make(chan []byte, 1)
	waiterErr := make(chan error, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", time.Minute, loader)
		waiterVal <- v
		waiterErr <- err
	}()
	// Give the waiter time to join the flight before the leader disconnects.
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled, "disconnected caller stops waiting")

	close(release)
	require.NoError(t, <-waiterErr, "leader cancellation must not abort the shared load")
	assert.Equal(t, []byte("v"), <-waiterVal)
}

func TestCache_GetOrLoad_LoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemoryStore(0))

	var loads int
	loader := func(context.Context) ([]byte, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("boom")
		}
		return []byte("ok"), nil
	}

	_, err := c.GetOrLoad(ctx, "k", time.Minute, loader)
	require.Error(t, err)

	val, err := c.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), val)
	assert.Equal(t, 2, loads, "error result must not be cached")
}

func TestCache_PrimaryFailureFallsBackToMemory(t *testing.T) {
	mr, primary := setupMiniRedis(t)
	ctx := context.Background()
	c := New(primary, NewMemoryStore(0))

	// Kill Redis so every primary call errors.
	mr.Close()

	val, err := c.GetOrLoad(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err, "transient backing-store error must not fail the call")
	assert.Equal(t, []byte("v"), val)

	// Value must be readable again from the fallback without reloading.
	val, err = c.GetOrLoad(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("loader must not run, value is in the fallback")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemoryStore(0))

	_, _ = c.GetOrLoad(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	c.Invalidate(ctx, "k")

	val, err := c.GetOrLoad(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("v2"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
}
