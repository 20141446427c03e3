// Package cache holds read-through caches for collaborator lookups that are
// safe to reuse: manifests, registry variables and fetched source pages.
// Approval status is never cached.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ppiankov/claimgate/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// New builds the cache described by cfg: nothing when disabled, memory
// only without a directory, memory over disk otherwise
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return Noop{}
	}
	if cfg.Dir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
}

// Key builds a namespaced cache key, e.g. Key("manifest", "study-1")
func Key(kind string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "claimgate:v1:" + kind + ":" + hex.EncodeToString(hash[:])
}

// ReadThrough returns the cached value for key, or calls load and caches
// its result. Cache failures never fail the call.
func ReadThrough[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if c != nil {
		if data, ok := c.Get(key); ok {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
			_ = c.Delete(key)
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if c != nil {
		if data, err := json.Marshal(v); err == nil {
			_ = c.Set(key, data, ttl)
		}
	}
	return v, nil
}

// Noop is a cache that stores nothing
type Noop struct{}

func (Noop) Get(string) ([]byte, bool)               { return nil, false }
func (Noop) Set(string, []byte, time.Duration) error { return nil }
func (Noop) Delete(string) error                     { return nil }
func (Noop) Clear() error                            { return nil }
