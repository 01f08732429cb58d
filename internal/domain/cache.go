package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local in-process cache + Redis.
// Used to avoid a store round trip for the beneficiary and active-cycle lookups
// that precede every verification.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local cache settings
	LocalTTL     time.Duration `mapstructure:"localttl"`
	LocalCleanup time.Duration `mapstructure:"localcleanup"`

	// Redis settings
	RedisAddr     string `mapstructure:"redisaddr"`
	RedisPassword string `mapstructure:"redispassword"`
	RedisDB       int    `mapstructure:"redisdb"`
	// RedisKeyspace prefixes lookup keys so several deployments can share one Redis.
	RedisKeyspace string `mapstructure:"rediskeyspace"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enabletwophase"` // If true, check local first, then Redis

	// LookupTTL bounds how long a beneficiary or active cycle may be served from cache.
	LookupTTL time.Duration `mapstructure:"lookupttl"`
}
