package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis stores JSON encoded values under a key prefix with a server-side TTL,
// so every replica shares one cache.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis[V any](client *redis.Client, prefix string, ttl time.Duration) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl}
}

func (c *Redis[V]) key(key string) string {
	return c.prefix + key
}

func (c *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	var value V
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, ErrMiss
	}
	if err != nil {
		return value, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return value, nil
}

func (c *Redis[V]) Set(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return c.client.Set(ctx, c.key(key), raw, c.ttl).Err()
}

func (c *Redis[V]) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Clear removes every key under the prefix.
func (c *Redis[V]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s*: %w", c.prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
