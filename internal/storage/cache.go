package storage

import lru "github.com/hashicorp/golang-lru/v2"

// QueryCache is the bounded LRU query-result cache spec.md §4.2
// requires alongside the query plan cache. Keyed by an opaque query
// fingerprint (typically bucket+prefix+version), valued by the
// already-decoded result set so repeat reads skip both the bbolt
// transaction and the JSON unmarshal.
type QueryCache struct {
	lru *lru.Cache[string, any]
}

func NewQueryCache(size int) (*QueryCache, error) {
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{lru: c}, nil
}

func (c *QueryCache) Get(key string) (any, bool) {
	return c.lru.Get(key)
}

func (c *QueryCache) Put(key string, value any) {
	c.lru.Add(key, value)
}

// Invalidate drops key, called whenever the underlying rows it
// summarizes are written.
func (c *QueryCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// InvalidatePrefix drops every cached key with the given prefix; used
// when a bucket-wide write (e.g. a CRDT merge) could affect many
// cached query results at once.
func (c *QueryCache) InvalidatePrefix(prefix string) {
	for _, k := range c.lru.Keys() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			c.lru.Remove(k)
		}
	}
}
