// Package session holds the voter identity remembered between votes in one
// browser session, used to pre-fill the vote form.
package session

import (
	"context"
	"sync"
	"time"
)

// TTL is how long a saved identity stays usable after it was cached.
const TTL = 24 * time.Hour

type Identity struct {
	FinanceID string `json:"financeId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Complete reports whether every identity field is filled in.
func (id Identity) Complete() bool {
	return id.FinanceID != "" && id.Email != "" && id.Name != ""
}

// Cache stores one identity per browser session key. Lookup returns nil, nil
// for a missing or expired entry and removes an expired one.
type Cache interface {
	Save(ctx context.Context, key string, id Identity) error
	Lookup(ctx context.Context, key string) (*Identity, error)
	Clear(ctx context.Context, key string) error
}

type entry struct {
	Identity
	CachedAt time.Time `json:"cachedAt"`
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > TTL
}

// sweepInterval bounds how often Save scans for expired entries.
const sweepInterval = time.Hour

// MemoryCache keeps identities in process. Entries of sessions that never
// come back are dropped by a sweep that Save runs at most once per
// sweepInterval.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]entry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), now: now, lastSweep: now()}
}

func (c *MemoryCache) Save(_ context.Context, key string, id Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		c.sweep(now)
	}
	c.entries[key] = entry{Identity: id, CachedAt: now}
	return nil
}

// sweep drops every expired entry. The caller holds mu.
func (c *MemoryCache) sweep(now time.Time) {
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

func (c *MemoryCache) Lookup(_ context.Context, key string) (*Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, nil
	}
	id := e.Identity
	return &id, nil
}

func (c *MemoryCache) Clear(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len is the number of entries held. Expired entries count until a Lookup or
// a sweep removes them.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
