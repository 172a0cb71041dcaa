package roles

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheTTL is how long a resolved role stays fresh.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize bounds the number of principals kept in memory.
	DefaultCacheSize = 128
)

// Entry is a memoized role for one principal.
type Entry struct {
	PrincipalID string
	Role        Role
	ResolvedAt  time.Time
}

// Cache memoizes resolved roles per principal.
//
// The cache is bound to the principal of the live session. Reads for any
// other principal miss, and rebinding to a new principal drops every entry.
// Each invalidation or rebind advances a generation counter; writers that
// captured an older generation are refused, so a lookup that started before
// an invalidation can never repopulate the cache after it.
type Cache struct {
	mu         sync.RWMutex
	entries    *expirable.LRU[string, Entry]
	ttl        time.Duration
	bound      string
	generation uint64
	now        func() time.Time
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the time source used for staleness checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache builds a Cache holding up to size entries for ttl each.
func NewCache(size int, ttl time.Duration, opts ...CacheOption) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		entries: expirable.NewLRU[string, Entry](size, nil, ttl),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached role for principalID when the entry is fresh and the
// principal is the one the cache is bound to.
func (c *Cache) Get(principalID string) (Role, bool) {
	entry, ok := c.Lookup(principalID)
	return entry.Role, ok
}

// Lookup is Get returning the whole entry, including when it was resolved.
func (c *Cache) Lookup(principalID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if principalID == "" || principalID != c.bound {
		return Entry{}, false
	}
	entry, ok := c.entries.Get(principalID)
	if !ok || entry.PrincipalID != principalID {
		return Entry{}, false
	}
	if c.now().Sub(entry.ResolvedAt) >= c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Put stores role for principalID, overwriting any prior entry.
func (c *Cache) Put(principalID string, role Role) {
	if principalID == "" || !role.Valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(principalID, role)
}

// PutIfCurrent stores role only if no invalidation or rebind happened since
// generation was observed and principalID is still the bound principal.
func (c *Cache) PutIfCurrent(generation uint64, principalID string, role Role) bool {
	if principalID == "" || !role.Valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation || principalID != c.bound {
		return false
	}
	c.put(principalID, role)
	return true
}

func (c *Cache) put(principalID string, role Role) {
	c.entries.Add(principalID, Entry{PrincipalID: principalID, Role: role, ResolvedAt: c.now()})
}

// Invalidate drops the entry for principalID.
func (c *Cache) Invalidate(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(principalID)
	c.generation++
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.generation++
}

// Bind ties the cache to principalID. Binding a different principal than the
// current one drops every entry.
func (c *Cache) Bind(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if principalID == c.bound {
		return
	}
	c.entries.Purge()
	c.bound = principalID
	c.generation++
}

// Bound returns the principal the cache currently serves.
func (c *Cache) Bound() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bound
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len reports how many entries are held, including stale ones not yet evicted.
func (c *Cache) Len() int {
	return c.entries.Len()
}
