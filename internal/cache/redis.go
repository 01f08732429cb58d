package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyspace namespaces beneficiary and cycle lookups in a shared Redis.
const DefaultKeyspace = "rationguard:lookup:"

// RedisCache holds registry lookups shared by every node of a deployment.
// Deletes are broadcast on the keyspace's invalidation channel so two-phase
// nodes drop their local copy of a suspended or re-enrolled beneficiary.
type RedisCache struct {
	client   *redis.Client
	keyspace string
}

// NewRedisCache connects to Redis. An empty keyspace selects DefaultKeyspace.
func NewRedisCache(addr, password string, db int, keyspace string) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewRedisCacheFromClient(client, keyspace), nil
}

// NewRedisCacheFromClient wraps an existing client without pinging it.
func NewRedisCacheFromClient(client *redis.Client, keyspace string) *RedisCache {
	if keyspace == "" {
		keyspace = DefaultKeyspace
	}
	if !strings.HasSuffix(keyspace, ":") {
		keyspace += ":"
	}
	return &RedisCache{client: client, keyspace: keyspace}
}

func (c *RedisCache) key(k string) string {
	return c.keyspace + k
}

// invalidationChannel carries the unprefixed keys of deleted lookups.
func (c *RedisCache) invalidationChannel() string {
	return c.keyspace + "invalidate"
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a lookup with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Delete removes a lookup and tells other nodes to drop their local copy.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, c.invalidationChannel(), key).Err()
}

// Invalidations streams keys deleted by any node until stop is called.
func (c *RedisCache) Invalidations(ctx context.Context) (keys <-chan string, stop func() error) {
	pubsub := c.client.Subscribe(ctx, c.invalidationChannel())
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
