package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache. It suits single-instance deployments
// and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	policy  Policy
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, or (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set stores a copy of value under the policy's effective TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Delete removes key. Idempotent.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ Cache = (*MemoryCache)(nil)
