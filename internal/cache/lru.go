package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMaxEntries = 1024
	defaultTTL        = 5 * time.Minute
)

type entry struct {
	value    string
	storedAt time.Time
	ttl      time.Duration
}

// LRU is an in-process Cache backed by a bounded LRU with per-entry TTL.
// Expired entries are dropped lazily on read.
type LRU struct {
	entries    *lru.Cache[string, entry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewLRU creates a cache holding up to maxEntries values. Zero arguments
// fall back to defaults.
func NewLRU(maxEntries int, ttl time.Duration) (*LRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &LRU{entries: entries, defaultTTL: ttl, now: time.Now}, nil
}

// Get returns the cached value, treating expired entries as misses.
func (c *LRU) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return "", false, nil
	}
	if c.now().Sub(e.storedAt) > e.ttl {
		c.entries.Remove(key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores the value. A non-positive ttl uses the cache default.
func (c *LRU) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries.Add(key, entry{value: value, storedAt: c.now(), ttl: ttl})
	return nil
}

// Delete removes the key if present.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of resident entries, expired or not.
func (c *LRU) Len() int { return c.entries.Len() }
