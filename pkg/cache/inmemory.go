package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

// InMemoryCache is a thread-safe, in-process Cache. Expired entries are removed
// lazily when they are next read.
type InMemoryCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
	now  func() time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache[K comparable, V any]() *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		data: make(map[K]entry[V]),
		now:  time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *InMemoryCache[K, V]) WithClock(now func() time.Time) *InMemoryCache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get retrieves an unexpired item from the cache.
func (c *InMemoryCache[K, V]) Get(_ context.Context, key K) (V, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	now := c.now()
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, ErrMiss
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		c.mu.Lock()
		// Only drop it if nobody replaced it meanwhile.
		if cur, still := c.data[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return zero, ErrMiss
	}
	return e.value, nil
}

// Set adds or replaces an item.
func (c *InMemoryCache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

// Delete removes an item.
func (c *InMemoryCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
