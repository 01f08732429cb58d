// Package cache provides caching implementations for RationGuard.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process TTL cache.
// Used as the single-node cache and as L1 in two-phase caching.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates an in-process cache. Expired entries are purged every cleanup interval.
func NewMemoryCache(defaultTTL, cleanup time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if cleanup <= 0 {
		cleanup = 2 * defaultTTL
	}
	return &MemoryCache{store: gocache.New(defaultTTL, cleanup)}
}

// Get retrieves a value from cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, nil
	}
	b, _ := v.([]byte)
	return b, nil
}

// Set stores a copy of value with TTL. A zero TTL uses the cache default.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete removes a value from cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Ping always succeeds for the in-process cache.
func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

// Close empties the cache.
func (c *MemoryCache) Close() error {
	c.store.Flush()
	return nil
}

// Stats returns the number of cached items, including expired ones not yet purged.
func (c *MemoryCache) Stats() int {
	return c.store.ItemCount()
}
