// internal/cache/cache_test.go
package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTL[string, int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must expire at exactly ttl")

	c.Set("b", 2)
	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)

	c.Set("c", 3)
	now = now.Add(2 * time.Minute)
	c.Purge()
	_, ok = c.items.Load("c")
	assert.False(t, ok)
}

func TestTTLDisabled(t *testing.T) {
	c := NewTTL[string, int](0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}
