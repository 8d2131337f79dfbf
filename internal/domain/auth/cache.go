package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenCache caches successful token validations keyed by the SHA-256
// hash of the raw token, so raw credentials are never retained.
// Thread-safe. Includes background sweeping to bound growth from a
// high-cardinality client population.
type TokenCache struct {
	entries       map[string]cacheEntry
	mu            sync.RWMutex
	ttl           time.Duration
	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
}

type cacheEntry struct {
	claims    *Claims
	expiresAt time.Time
}

// NewTokenCache creates a token cache with the given entry TTL and a
// default sweep interval of one minute.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return NewTokenCacheWithSweep(ttl, time.Minute)
}

// NewTokenCacheWithSweep creates a token cache with a custom sweep
// interval, for tests and tuned deployments.
func NewTokenCacheWithSweep(ttl, sweepInterval time.Duration) *TokenCache {
	return &TokenCache{
		entries:       make(map[string]cacheEntry),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Get returns the cached claims for a raw token. An entry is never
// returned at or past its expiry, independent of the background sweep.
func (c *TokenCache) Get(rawToken string) (*Claims, bool) {
	key := HashKey(rawToken)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && !time.Now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.claims, true
}

// Put stores claims for a raw token. The entry expires ttl from now.
func (c *TokenCache) Put(rawToken string, claims *Claims) {
	key := HashKey(rawToken)
	c.mu.Lock()
	c.entries[key] = cacheEntry{claims: claims, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// StartCleanup starts the background sweep goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (c *TokenCache) StartCleanup(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// sweep removes entries past their expiry.
func (c *TokenCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	swept := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			swept++
		}
	}

	if swept > 0 {
		slog.Debug("token cache sweep completed",
			"swept_entries", swept,
			"remaining_entries", len(c.entries))
	}
}

// Stop gracefully stops the sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (c *TokenCache) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Size returns the current number of cached entries.
// Useful for testing and monitoring memory usage.
func (c *TokenCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
