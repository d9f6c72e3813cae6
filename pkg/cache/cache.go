// Package cache provides a TTL key/value store with a bounded entry count
// and optional disk persistence, used to short-circuit repeated outbound
// API calls.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend defines the interface for cache storage backends.
type Backend interface {
	// Get retrieves a value from the cache.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with a TTL and an optional prefix
	// used for bulk invalidation.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, prefix string) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values whose key starts with prefix and
	// returns how many were removed. Zero matches is not an error.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache statistics.
type Stats struct {
	Hits            uint64         // Number of cache hits
	Misses          uint64         // Number of cache misses
	Sets            uint64         // Number of cache sets
	Deletes         uint64         // Number of cache deletes
	Evictions       uint64         // Number of evictions (bound or expiry)
	Size            int            // Current number of entries
	MaxSize         int            // Maximum entry count
	HitRate         float64        // Cache hit rate (0.0 - 1.0)
	EntriesByPrefix map[string]int // Resident entries per prefix
	AverageAge      time.Duration  // Mean age of resident entries
	MaxAge          time.Duration  // Age of the oldest resident entry
}

// Entry represents a cached entry.
type Entry struct {
	Value     []byte    // Cached value
	CreatedAt time.Time // Creation time
	ExpiresAt time.Time // Expiration time
	Prefix    string    // Namespace for bulk invalidation
}

// IsExpired checks if the entry has expired.
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false // Never expires
	}
	return time.Now().After(e.ExpiresAt)
}

// Compute produces a value to cache.
type Compute func(ctx context.Context) ([]byte, error)

// Cache wraps a Backend with get-or-compute semantics.
//
// Concurrent callers for the same key are deduplicated through a
// single-flight group: while one computation is in flight, other callers
// for that key wait for its result instead of recomputing.
type Cache struct {
	backend Backend
	group   singleflight.Group
}

// New creates a Cache over backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Backend returns the underlying storage backend.
func (c *Cache) Backend() Backend {
	return c.backend
}

// GetOrCompute returns the cached value for key if present and unexpired.
// Otherwise it invokes compute, stores the result under key with the given
// ttl and prefix, and returns it. The boolean reports whether the value was
// served from cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, prefix string, compute Compute) ([]byte, bool, error) {
	if value, found, err := c.backend.Get(ctx, key); err == nil && found {
		return value, true, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have stored the
		// value between our miss and joining the flight.
		if value, found, err := c.backend.Get(ctx, key); err == nil && found {
			return value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		// A store failure degrades to pass-through, never to a caller error.
		_ = c.backend.Set(ctx, key, value, ttl, prefix)
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}

	return value.([]byte), false, nil
}

// Invalidate removes entries matching the given operation name and/or
// prefix. With both empty, every entry is removed. Returns the number of
// entries removed; zero matches is a no-op.
func (c *Cache) Invalidate(ctx context.Context, opName, prefix string) (int, error) {
	switch {
	case opName != "":
		return c.backend.DeletePrefix(ctx, KeyPrefix(prefix, opName))
	case prefix != "":
		return c.backend.DeletePrefix(ctx, prefix)
	default:
		stats := c.backend.Stats()
		if err := c.backend.Clear(ctx); err != nil {
			return 0, err
		}
		return stats.Size, nil
	}
}

// Stats returns statistics from the underlying backend.
func (c *Cache) Stats() Stats {
	return c.backend.Stats()
}
