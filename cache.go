package adclient

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// cacheEntry pairs a stored result set with its expiry instant.
type cacheEntry struct {
	records   []DirectoryRecord
	expiresAt time.Time
}

// ResultCache memoizes fully-materialized search results keyed by query
// shape. Expiry is lazy: entries past their TTL are dropped on the lookup
// that finds them, never by a background sweeper. Bounded by an LRU so a
// burst of distinct queries cannot grow memory without limit.
type ResultCache struct {
	store *lru.Cache[string, *cacheEntry]
	clock clockwork.Clock
}

// NewResultCache creates a cache holding at most size distinct query
// results.
func NewResultCache(size int) (*ResultCache, error) {
	return newResultCache(size, clockwork.NewRealClock())
}

func newResultCache(size int, clock clockwork.Clock) (*ResultCache, error) {
	store, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{store: store, clock: clock}, nil
}

// Get returns the cached records for a query signature, or false when the
// entry is absent or expired. Expired entries are removed on the way out.
func (c *ResultCache) Get(key string) ([]DirectoryRecord, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.store.Remove(key)
		return nil, false
	}
	return entry.records, true
}

// Put stores records under key for the given TTL. A non-positive TTL
// stores nothing.
func (c *ResultCache) Put(key string, records []DirectoryRecord, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.store.Add(key, &cacheEntry{
		records:   records,
		expiresAt: c.clock.Now().Add(ttl),
	})
}

// Invalidate drops a single entry.
func (c *ResultCache) Invalidate(key string) {
	c.store.Remove(key)
}

// Purge drops every entry.
func (c *ResultCache) Purge() {
	c.store.Purge()
}

// Len reports the number of stored entries, counting expired entries that
// have not yet been looked up.
func (c *ResultCache) Len() int {
	return c.store.Len()
}
