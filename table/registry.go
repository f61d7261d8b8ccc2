package table

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/crud/normalize"
)

// Registry holds the Table of every configured resource, keyed by alias
type Registry struct {
	tables map[string]Table
	db     *sql.DB
	cache  CacheConfig
	mu     sync.RWMutex
}

// NewRegistry creates a registry. With a nil db every table is kept in memory.
func NewRegistry(db *sql.DB, cache CacheConfig) *Registry {
	return &Registry{
		tables: make(map[string]Table),
		db:     db,
		cache:  cache,
	}
}

// Register validates the schema and creates its cached Table, replacing any
// table already registered under the same alias. Seed rows only apply to
// memory tables.
func (r *Registry) Register(schema Schema, seed ...normalize.Record) (Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	var t Table
	if r.db != nil {
		t = NewPostgresTable(r.db, schema)
	} else {
		t = NewMemoryTable(schema, seed...)
	}
	t = NewCachedTable(t, NewMemoryFindCache(r.cache))

	r.mu.Lock()
	r.tables[schema.Alias] = t
	r.mu.Unlock()

	return t, nil
}

// Add registers an already constructed Table
func (r *Registry) Add(t Table) error {
	if err := t.Schema().Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[t.Schema().Alias] = t
	return nil
}

// LoadAll registers every schema, stopping at the first invalid one
func (r *Registry) LoadAll(schemas []Schema) error {
	for _, s := range schemas {
		if _, err := r.Register(s); err != nil {
			return fmt.Errorf("failed to register %s: %w", s.Alias, err)
		}
	}
	return nil
}

// Get retrieves the table registered under alias
func (r *Registry) Get(alias string) (Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tables[alias]
	if !exists {
		return nil, fmt.Errorf("table %s not registered", alias)
	}
	return t, nil
}

// List returns all registered aliases, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.tables))
	for alias := range r.tables {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Remove drops a table from the registry
// Note: This does not touch the database
func (r *Registry) Remove(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[alias]; !exists {
		return fmt.Errorf("table %s not registered", alias)
	}

	delete(r.tables, alias)
	return nil
}
