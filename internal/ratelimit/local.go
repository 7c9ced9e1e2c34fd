// SPDX-License-Identifier: MIT

package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// window is a single fixed counting window.
type window struct {
	count   int
	resetAt time.Time
}

// localCounters is the in-memory fallback: fixed-window counters guarded by
// a mutex per key shard.
type localCounters struct {
	shards [shardCount]struct {
		mu      sync.Mutex
		windows map[string]*window
	}
}

func newLocalCounters() *localCounters {
	c := &localCounters{}
	for i := range c.shards {
		c.shards[i].windows = make(map[string]*window)
	}
	return c
}

func (c *localCounters) allow(key string, windowDur time.Duration, limit int) Decision {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := &c.shards[h.Sum32()%shardCount]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := time.Now()
	w, ok := shard.windows[key]
	if !ok || !now.Before(w.resetAt) {
		// Window boundary: start a new window at count 1.
		w = &window{count: 1, resetAt: now.Add(windowDur)}
		shard.windows[key] = w
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: w.resetAt.Unix()}
	}

	w.count++
	if w.count > limit {
		retry := int(time.Until(w.resetAt).Seconds()) + 1
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt.Unix(), RetryAfter: retry}
	}
	return Decision{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt.Unix()}
}
