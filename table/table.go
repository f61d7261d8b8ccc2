package table

import (
	"context"
	"errors"

	"github.com/liamcoop/crud/normalize"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// Entity is a row being created or updated. ID is empty for new rows and is
// filled in by Save.
type Entity struct {
	ID     string
	Fields normalize.Record
}

// IsNew reports whether Save will insert the entity
func (e *Entity) IsNew() bool {
	return e.ID == ""
}

// Table reads and writes the rows of one resource.
// Rows are grouped by entity and association alias:
//
//	{"User": {"id": "5", "name": "..."}, "Profile": {"id": "987", ...}}
//
// with values as the database returns them (strings or nil).
type Table interface {
	Schema() Schema

	// Find returns every row ordered by primary key
	Find(ctx context.Context) ([]normalize.Record, error)

	// Get returns one row, or ErrNotFound
	Get(ctx context.Context, id string) (normalize.Record, error)

	// Save inserts or updates the entity's own columns
	Save(ctx context.Context, entity *Entity) error

	// Delete removes a row, or returns ErrNotFound
	Delete(ctx context.Context, id string) error
}

// columnValues returns the entity fields that are real columns, excluding the
// primary key, in schema order
func columnValues(schema Schema, fields normalize.Record) ([]string, []any) {
	var columns []string
	var values []any
	for _, c := range schema.Columns {
		if c == schema.PrimaryKey {
			continue
		}
		v, ok := fields.Get(c)
		if !ok {
			continue
		}
		columns = append(columns, c)
		values = append(values, v)
	}
	return columns, values
}
