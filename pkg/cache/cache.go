// Package cache provides the in-memory response cache used by the API layer.
//
// The cache maps string keys to decoded values, each with its own expiry.
// An entry is visible to [Store.Get] while the current time is at or before
// its expiry; expired entries are removed lazily by Get and eagerly by a
// background sweep.
//
// # Implementations
//
//   - [TTLCache]: expiring map with a periodic sweep (the default)
//   - [NullCache]: never stores anything; used when caching is disabled
//
// # Keys
//
// Request keys are derived from the request URL and its options by a [Keyer]:
//
//	k := cache.NewDefaultKeyer()
//	key := k.RequestKey("http://localhost:5000/api/feed", opts)
//
// Use [NewScopedKeyer] to isolate the keys of one user or profile.
package cache

import (
	"context"
	"time"
)

// Store is the interface the API layer caches through.
type Store interface {
	// Get returns the value stored under key if it has not expired.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores value under key for ttl. A ttl <= 0 selects the store default.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// ClearExpired removes every expired entry.
	ClearExpired(ctx context.Context)

	// ClearAll removes every entry.
	ClearAll(ctx context.Context)

	// Close releases background resources.
	Close() error
}
