// Package ratelimit provides fixed-window rate limit counters shared by the
// HTTP middleware and the in-session chat and reaction paths.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config defines a limit.
// Valid values:
//   - RequestsPerWindow: must be > 0
//   - WindowDuration: must be > 0
type Config struct {
	// RequestsPerWindow is the maximum number of hits allowed per window.
	RequestsPerWindow int
	// WindowDuration is the length of a window.
	WindowDuration time.Duration
}

// Validate checks that the Config has valid values.
func (c Config) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// PerMinute returns a one-minute window allowing n hits.
func PerMinute(n int) Config {
	return Config{RequestsPerWindow: n, WindowDuration: time.Minute}
}

// Store holds rate limit state. Different backends (in-memory, Redis) share
// this interface.
type Store interface {
	// Allow records a hit for key and reports whether it is within the
	// limit. retryAfter is the number of seconds until the window resets
	// when the hit is rejected.
	Allow(ctx context.Context, key string, cfg Config) (allowed bool, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryStore implements Store with a fixed window counter per key.
// Thread-safe for concurrent access.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements Store.
func (s *InMemoryStore) Allow(ctx context.Context, key string, cfg Config) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, exists := s.buckets[key]
	if !exists || now.After(b.windowEnd) {
		s.buckets[key] = &bucket{count: 1, windowEnd: now.Add(cfg.WindowDuration)}
		return true, 0
	}
	if b.count < cfg.RequestsPerWindow {
		b.count++
		return true, 0
	}

	retryAfter := int(b.windowEnd.Sub(now).Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Cleanup removes expired buckets. Call it periodically, at an interval of a
// few times the longest configured window.
func (s *InMemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
