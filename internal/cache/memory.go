package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process cache with per-entry expiry
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache creates a memory cache; ttl 0 uses defaultTTL
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{items: gocache.New(defaultTTL, cleanupInterval)}
}

// Get returns a copy of the cached bytes
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	b := v.([]byte)
	return append([]byte(nil), b...), true
}

// Set stores a copy of value
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len returns the number of unexpired entries
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
