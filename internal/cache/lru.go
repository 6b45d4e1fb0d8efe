package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperjump/setsumei/internal/models"
)

// LRU is a size-bounded in-process cache with optional TTL expiration.
type LRU struct {
	cache *lru.Cache[string, lruEntry]
	ttl   time.Duration
	now   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

type lruEntry struct {
	value     *models.Explanation
	expiresAt time.Time
}

// NewLRU returns a cache holding at most size explanations; ttl 0 disables expiration.
func NewLRU(size int, ttl time.Duration) (*LRU, error) {
	c, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{cache: c, ttl: ttl, now: time.Now}, nil
}

// Get returns a copy of the stored explanation.
func (c *LRU) Get(_ context.Context, key string) (*models.Explanation, bool, error) {
	entry, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return entry.value.Clone(), true, nil
}

// Set stores a copy of e.
func (c *LRU) Set(_ context.Context, key string, e *models.Explanation) error {
	entry := lruEntry{value: e.Clone()}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.cache.Add(key, entry)
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *LRU) Len() int {
	return c.cache.Len()
}

// Stats returns hit and miss counts.
func (c *LRU) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close purges the cache.
func (c *LRU) Close() error {
	c.cache.Purge()
	return nil
}
