// Package cache provides an in-memory, TTL-bounded ports.CacheStore.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is a concurrency-safe map with per-entry expiry. Expired
// entries are dropped lazily on access and by Prune.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), now: time.Now}
}

// Get implements ports.CacheStore.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements ports.CacheStore.
func (c *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	if expiration < 0 {
		return ports.NewCacheError(key, "Set", ports.ErrCacheCorrupted)
	}
	var exp time.Time
	if expiration > 0 {
		exp = c.now().Add(expiration)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: exp}
	c.mu.Unlock()
	return nil
}

// Delete implements ports.CacheStore.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Clear implements ports.CacheStore.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

// Prune drops every expired entry and returns how many were removed.
func (c *MemoryCache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet pruned.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ ports.CacheStore = (*MemoryCache)(nil)
