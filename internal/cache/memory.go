// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// entry represents a cached value with expiration time.
type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// MemoryStore is a process-local Store with periodic expiry sweeping.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	janitor *janitor
}

// NewMemoryStore creates an in-memory store. A background sweeper removes
// expired entries every cleanupInterval; zero disables sweeping.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]*entry)}
	if cleanupInterval > 0 {
		s.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go s.janitor.run(s)
	}
	return s
}

// Get retrieves a value from the store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.entries[key]
	if !found || e.isExpired() {
		return nil, false, nil
	}
	return e.value, true, nil
}

// SetEx stores a value with the given TTL.
func (s *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	return nil
}

// Del removes a value from the store.
func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DelPrefix removes all keys starting with prefix.
func (s *MemoryStore) DelPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Healthy always succeeds for the in-memory store.
func (s *MemoryStore) Healthy(context.Context) error { return nil }

// deleteExpired removes all expired entries. Returns the number deleted.
func (s *MemoryStore) deleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, e := range s.entries {
		if e.isExpired() {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

// Stop stops the background sweeper.
func (s *MemoryStore) Stop() {
	if s.janitor != nil {
		s.janitor.stop <- struct{}{}
	}
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(s *MemoryStore) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-j.stop:
			return
		}
	}
}
