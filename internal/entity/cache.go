package entity

import (
	"sync"

	"argus/internal/core"
)

// Cache is a concurrency-safe cache of names_match verdicts, keyed on the
// pair of already-normalized names plus entity type. Each Matcher creates
// its own Cache in NewMatcher, so verdicts are not shared between Matchers
// (each analysis worker holds a separate one). It is
// eventually consistent with the database: a negative match recorded after
// a verdict has been cached will not invalidate that cache entry until the
// process restarts.
type Cache struct {
	mu   sync.RWMutex
	data map[cacheKey]bool
}

type cacheKey struct {
	a, b string
	t    core.EntityType
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[cacheKey]bool)}
}

func pairKey(normA, normB string, t core.EntityType) cacheKey {
	if normA > normB {
		normA, normB = normB, normA
	}
	return cacheKey{a: normA, b: normB, t: t}
}

// Get returns the cached verdict for the (normA, normB, entityType) triple,
// order-independent.
func (c *Cache) Get(normA, normB string, entityType core.EntityType) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[pairKey(normA, normB, entityType)]
	return v, ok
}

// Set records a verdict for the (normA, normB, entityType) triple.
func (c *Cache) Set(normA, normB string, entityType core.EntityType, matched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[pairKey(normA, normB, entityType)] = matched
}

// Len returns the number of cached pairs, for diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
