// Package cache provides an in-process read cache scoped by (entity type,
// version). Invalidation is a version bump for the whole entity type, not a
// key scan.
package cache

import "sync"

type typeCache[T any] struct {
	version uint64
	entries map[string]T
}

// Versioned caches values per entity type. Bump invalidates every key of that
// type at once by advancing its version and discarding the entry map.
type Versioned[T any] struct {
	mu    sync.RWMutex
	types map[string]*typeCache[T]
}

// NewVersioned creates an empty cache.
func NewVersioned[T any]() *Versioned[T] {
	return &Versioned[T]{types: make(map[string]*typeCache[T])}
}

// Get returns the cached value for (entityType, key) at the current version.
func (c *Versioned[T]) Get(entityType, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	tc, ok := c.types[entityType]
	if !ok {
		return zero, false
	}
	v, ok := tc.entries[key]
	return v, ok
}

// Set stores a value under the current version of entityType.
func (c *Versioned[T]) Set(entityType, key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.types[entityType]
	if !ok {
		tc = &typeCache[T]{entries: make(map[string]T)}
		c.types[entityType] = tc
	}
	tc.entries[key] = value
}

// Bump invalidates every entry of entityType.
func (c *Versioned[T]) Bump(entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.types[entityType]
	if !ok {
		return
	}
	tc.version++
	tc.entries = make(map[string]T)
}

// Version returns the invalidation count for entityType.
func (c *Versioned[T]) Version(entityType string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if tc, ok := c.types[entityType]; ok {
		return tc.version
	}
	return 0
}
