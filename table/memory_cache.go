package table

import (
	"sync"
	"time"

	"github.com/liamcoop/crud/normalize"
)

// MemoryFindCache keeps one deep copy of the rows; Get hands out copies so
// callers may rewrite them in place
type MemoryFindCache struct {
	rows     []normalize.Record
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewMemoryFindCache creates a new in-memory find cache
func NewMemoryFindCache(config CacheConfig) *MemoryFindCache {
	return &MemoryFindCache{
		config: config,
	}
}

// Get retrieves cached rows
// Returns nil if cache is invalid or expired
func (c *MemoryFindCache) Get() []normalize.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}

	return cloneRows(c.rows)
}

// Set stores rows in cache
func (c *MemoryFindCache) Set(rows []normalize.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows = cloneRows(rows)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *MemoryFindCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rows = nil
}

// IsValid returns true if cache contains valid data
func (c *MemoryFindCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

// fresh must be called with mu held
func (c *MemoryFindCache) fresh() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}

func cloneRows(rows []normalize.Record) []normalize.Record {
	out := make([]normalize.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
