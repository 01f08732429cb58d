package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// New creates the lookup cache for a deployment.
// "memory" keeps lookups in process, which suits a single node.
// "redis" shares them between nodes; with two-phase each node also keeps a
// short-lived local copy that is dropped when any node invalidates the key.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryCache(cfg.LocalTTL, cfg.LocalCleanup), nil

	case "redis":
		remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyspace)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(NewMemoryCache(cfg.LocalTTL, cfg.LocalCleanup), remote, cfg.LocalTTL), nil
		}
		return remote, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// invalidationSource is implemented by shared caches that broadcast deletes.
type invalidationSource interface {
	Invalidations(ctx context.Context) (keys <-chan string, stop func() error)
}

// TwoPhaseCache serves lookups from a node-local tier backed by a shared tier.
// A status change on one node reaches the others through the shared tier's
// invalidations, so a blocked card is not served from a stale local copy.
type TwoPhaseCache struct {
	local  domain.Cache
	remote domain.Cache
	l1TTL  time.Duration

	cancel context.CancelFunc
	stop   func() error
	done   chan struct{}
}

// NewTwoPhaseCache creates a two-phase cache. l1TTL caps how long the local tier
// may serve a value. If remote broadcasts invalidations, they are applied to local.
func NewTwoPhaseCache(local, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	c := &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}

	if src, ok := remote.(invalidationSource); ok {
		ctx, cancel := context.WithCancel(context.Background())
		keys, stop := src.Invalidations(ctx)
		c.cancel, c.stop, c.done = cancel, stop, make(chan struct{})
		go c.applyInvalidations(ctx, keys)
	}
	return c
}

func (c *TwoPhaseCache) applyInvalidations(ctx context.Context, keys <-chan string) {
	defer close(c.done)
	for key := range keys {
		if err := c.local.Delete(ctx, key); err != nil {
			slog.Warn("failed to drop invalidated lookup", "key", key, "error", err)
		}
	}
}

// Get reads the local tier first and fills it from the shared tier on a miss.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes both tiers. The local copy never outlives l1TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes the lookup from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// Ping checks both tiers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local lookup cache: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("shared lookup cache: %w", err)
	}
	return nil
}

// Close stops the invalidation listener and closes both tiers.
func (c *TwoPhaseCache) Close() error {
	if c.cancel != nil {
		c.cancel()
		_ = c.stop()
		<-c.done
	}
	_ = c.local.Close()
	return c.remote.Close()
}
