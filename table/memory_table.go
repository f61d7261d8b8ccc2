package table

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/liamcoop/crud/normalize"
)

// MemoryTable implements Table using in-memory rows.
// Associated groups are stored with the row and returned as given.
type MemoryTable struct {
	schema Schema
	rows   []normalize.Record
	nextID int64
	mu     sync.RWMutex
}

// NewMemoryTable creates a table seeded with rows. Each row must hold the
// entity group; the next generated id follows the highest numeric seed id.
func NewMemoryTable(schema Schema, rows ...normalize.Record) *MemoryTable {
	t := &MemoryTable{
		schema: schema,
		nextID: 1,
	}
	for _, row := range rows {
		t.rows = append(t.rows, row.Clone())
		if id, ok := t.rowID(row); ok {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil && n >= t.nextID {
				t.nextID = n + 1
			}
		}
	}
	return t
}

func (t *MemoryTable) Schema() Schema {
	return t.schema
}

func (t *MemoryTable) rowID(row normalize.Record) (string, bool) {
	group, ok := row.Get(t.schema.Entity)
	if !ok {
		return "", false
	}
	rec, ok := group.(normalize.Record)
	if !ok {
		return "", false
	}
	return rec.GetString(t.schema.PrimaryKey)
}

func (t *MemoryTable) indexOf(id string) int {
	for i, row := range t.rows {
		if rowID, ok := t.rowID(row); ok && rowID == id {
			return i
		}
	}
	return -1
}

// Find returns copies of all rows
func (t *MemoryTable) Find(ctx context.Context) ([]normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]normalize.Record, len(t.rows))
	for i, row := range t.rows {
		out[i] = row.Clone()
	}
	return out, nil
}

// Get returns a copy of the row with the given id
func (t *MemoryTable) Get(ctx context.Context, id string) (normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%s %s: %w", t.schema.Entity, id, ErrNotFound)
	}
	return t.rows[i].Clone(), nil
}

// Save inserts new entities with the next id, or merges fields into an existing row
func (t *MemoryTable) Save(ctx context.Context, entity *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	columns, values := columnValues(t.schema, entity.Fields)

	if entity.IsNew() {
		id := strconv.FormatInt(t.nextID, 10)
		t.nextID++

		group := normalize.Record{}
		for _, c := range t.schema.Columns {
			group.Set(c, nil)
		}
		group.Set(t.schema.PrimaryKey, id)
		for i, c := range columns {
			group.Set(c, stringValue(values[i]))
		}

		t.rows = append(t.rows, normalize.Record{{Key: t.schema.Entity, Value: group}})
		entity.ID = id
		return nil
	}

	i := t.indexOf(entity.ID)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", t.schema.Entity, entity.ID, ErrNotFound)
	}

	row := t.rows[i]
	groupValue, _ := row.Get(t.schema.Entity)
	group := groupValue.(normalize.Record)
	for j, c := range columns {
		group.Set(c, stringValue(values[j]))
	}
	row.Set(t.schema.Entity, group)
	t.rows[i] = row
	return nil
}

// Delete removes the row with the given id
func (t *MemoryTable) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", t.schema.Entity, id, ErrNotFound)
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

// stringValue mimics a SQL driver handing every column back as text
func stringValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
