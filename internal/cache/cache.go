// internal/cache/cache.go
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a small concurrency-safe map whose entries expire after a fixed lifetime.
type TTL[K comparable, V any] struct {
	items sync.Map
	ttl   time.Duration
	now   func() time.Time
}

// NewTTL creates a cache whose entries live for ttl. A non-positive ttl disables caching.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{ttl: ttl, now: time.Now}
}

// Set stores value under key.
func (c *TTL[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.items.Store(key, entry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Get returns the value for key, or false when absent or expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := c.items.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(entry[V])
	if !c.now().Before(e.expiresAt) {
		c.items.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.items.Delete(key)
}

// Purge drops every expired entry.
func (c *TTL[K, V]) Purge() {
	now := c.now()
	c.items.Range(func(key, value any) bool {
		if !now.Before(value.(entry[V]).expiresAt) {
			c.items.Delete(key)
		}
		return true
	})
}
