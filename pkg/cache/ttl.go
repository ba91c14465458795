package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"

	"github.com/matzehuels/neonfeed/pkg/observability"
)

const (
	// DefaultTTL is the lifetime of an entry stored without an explicit ttl.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are swept.
	DefaultSweepInterval = time.Minute

	defaultLayer = "ttl"
)

// Options configures a [TTLCache].
type Options struct {
	// DefaultTTL applies when Set is called with ttl <= 0. Zero means [DefaultTTL].
	DefaultTTL time.Duration

	// SweepInterval is the period of the background sweep. Zero means
	// [DefaultSweepInterval]; a negative value disables the sweep.
	SweepInterval time.Duration

	// Layer labels the cache in observability events. Defaults to "ttl".
	Layer string

	// Logger receives sweep diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// TTLCache is an in-memory key/value store with per-entry expiry.
//
// It is safe for concurrent use. A background goroutine started by
// [NewTTLCache] calls [TTLCache.ClearExpired] every SweepInterval until
// [TTLCache.Close] is called.
type TTLCache struct {
	mu         sync.Mutex
	items      *ttlcache.Cache[string, any]
	defaultTTL time.Duration
	layer      string
	logger     *log.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTTLCache creates a TTLCache and starts its background sweep.
func NewTTLCache(opts Options) *TTLCache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Layer == "" {
		opts.Layer = defaultLayer
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	c := &TTLCache{
		// Reads must not extend an entry's lifetime.
		items:      ttlcache.New[string, any](ttlcache.WithDisableTouchOnHit[string, any]()),
		defaultTTL: opts.DefaultTTL,
		layer:      opts.Layer,
		logger:     opts.Logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go c.sweep(opts.SweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// DefaultTTLValue returns the ttl applied when Set is called without one.
func (c *TTLCache) DefaultTTLValue() time.Duration { return c.defaultTTL }

// Set stores value under key, replacing any existing entry.
// The entry expires ttl from now, or after the default TTL if ttl <= 0.
func (c *TTLCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.items.Set(key, value, ttl)
	c.mu.Unlock()

	observability.Cache().OnCacheSet(ctx, c.layer)
}

// Get returns the value stored under key while it is live.
// An expired entry is deleted and reported as absent.
func (c *TTLCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.Lock()
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		c.items.Delete(key)
		c.mu.Unlock()
		observability.Cache().OnCacheMiss(ctx, c.layer)
		return nil, false
	}
	value := item.Value()
	c.mu.Unlock()

	observability.Cache().OnCacheHit(ctx, c.layer)
	return value, true
}

// ClearExpired deletes every entry whose expiry has passed.
func (c *TTLCache) ClearExpired(ctx context.Context) {
	c.mu.Lock()
	before := c.items.Len()
	c.items.DeleteExpired()
	removed := before - c.items.Len()
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("swept expired cache entries", "layer", c.layer, "removed", removed)
	}
	observability.Cache().OnCacheSweep(ctx, c.layer, removed)
}

// ClearAll deletes every entry.
func (c *TTLCache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.items.DeleteAll()
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Close stops the background sweep. It is safe to call more than once.
func (c *TTLCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return nil
}

func (c *TTLCache) sweep(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.ClearExpired(context.Background())
		}
	}
}

// Ensure TTLCache implements Store.
var _ Store = (*TTLCache)(nil)
