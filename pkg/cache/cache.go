package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a generic key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key K) (V, error)
	// Set stores value for key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key K, value V, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key K) error
}
