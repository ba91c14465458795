package cache

import (
	"context"
	"time"
)

// NullCache is a no-op cache that never stores anything.
// Useful for testing or when caching should be disabled.
type NullCache struct{}

// NewNullCache creates a null cache.
func NewNullCache() Store {
	return &NullCache{}
}

// Get always returns a cache miss.
func (c *NullCache) Get(ctx context.Context, key string) (any, bool) {
	return nil, false
}

// Set does nothing.
func (c *NullCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {}

// ClearExpired does nothing.
func (c *NullCache) ClearExpired(ctx context.Context) {}

// ClearAll does nothing.
func (c *NullCache) ClearAll(ctx context.Context) {}

// Close does nothing.
func (c *NullCache) Close() error {
	return nil
}

// Ensure NullCache implements Store.
var _ Store = (*NullCache)(nil)
