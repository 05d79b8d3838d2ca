package verifier

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceCache is an in-process NonceCache. Entries live for one TTL,
// which should cover the credential timestamp window with margin. Suitable
// for single-instance responders; multi-instance deployments want a shared
// store instead.
type MemoryNonceCache struct {
	mu        sync.Mutex
	entries   map[string]time.Time // (did, nonce) key → expiry
	ttl       time.Duration
	lastSweep time.Time
}

// NewMemoryNonceCache creates a nonce cache whose entries expire after ttl.
func NewMemoryNonceCache(ttl time.Duration) *MemoryNonceCache {
	return &MemoryNonceCache{
		entries:   make(map[string]time.Time),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Seen implements NonceCache.
func (c *MemoryNonceCache) Seen(_ context.Context, didStr, nonce string) (bool, error) {
	key := didStr + "|" + nonce
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(now)

	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return true, nil
	}
	c.entries[key] = now.Add(c.ttl)
	return false, nil
}

// Len returns the number of tracked entries (including expired ones not yet
// swept).
func (c *MemoryNonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLocked drops expired entries at most once per TTL so lookups stay
// amortised O(1).
func (c *MemoryNonceCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	for k, exp := range c.entries {
		if now.After(exp) {
			delete(c.entries, k)
		}
	}
	c.lastSweep = now
}

var _ NonceCache = (*MemoryNonceCache)(nil)
