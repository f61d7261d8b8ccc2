package table

import (
	"context"
	"time"

	"github.com/liamcoop/crud/normalize"
)

// FindCache provides an abstraction for caching the result of Table.Find
// This allows swapping between in-memory, Redis, or other caching implementations
type FindCache interface {
	// Get returns a copy of the cached rows, or nil on a miss or expiry
	Get() []normalize.Record

	// Set stores a copy of rows
	Set(rows []normalize.Record)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig only invalidates on writes
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// CachedTable serves Find from a FindCache and invalidates it on every write.
// The FindCache must return rows the caller owns.
type CachedTable struct {
	Table
	cache FindCache
}

// NewCachedTable wraps table with cache
func NewCachedTable(table Table, cache FindCache) *CachedTable {
	return &CachedTable{Table: table, cache: cache}
}

// Find returns cached rows or loads them from the wrapped table
func (c *CachedTable) Find(ctx context.Context) ([]normalize.Record, error) {
	if rows := c.cache.Get(); rows != nil {
		return rows, nil
	}

	rows, err := c.Table.Find(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(rows)
	return rows, nil
}

// Save writes through and invalidates the cache
func (c *CachedTable) Save(ctx context.Context, entity *Entity) error {
	if err := c.Table.Save(ctx, entity); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

// Delete writes through and invalidates the cache
func (c *CachedTable) Delete(ctx context.Context, id string) error {
	if err := c.Table.Delete(ctx, id); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}
