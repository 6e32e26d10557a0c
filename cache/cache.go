package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Policy is the storage behind a repository's read cache.
type Policy[V any] interface {
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL keeps values in process memory until they are older than ttl.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
	now     func() time.Time
}

func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.now = now
	return c
}

func (c *TTL[V]) Get(_ context.Context, key string) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, ErrMiss
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return zero, ErrMiss
	}
	return e.value, nil
}

func (c *TTL[V]) Set(_ context.Context, key string, value V) error {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *TTL[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *TTL[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
	return nil
}

// Len reports live and expired entries not yet evicted.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
