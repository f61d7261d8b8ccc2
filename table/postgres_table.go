package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/liamcoop/crud/normalize"
)

// PostgresTable implements Table backed by PostgreSQL.
// Every column is selected as text so rows look the same whatever the column type.
type PostgresTable struct {
	db     *sql.DB
	schema Schema

	selectSQL string
}

// NewPostgresTable creates a PostgreSQL-backed Table. The schema must be valid.
func NewPostgresTable(db *sql.DB, schema Schema) *PostgresTable {
	return &PostgresTable{
		db:        db,
		schema:    schema,
		selectSQL: buildSelect(schema),
	}
}

func (t *PostgresTable) Schema() Schema {
	return t.schema
}

func buildSelect(s Schema) string {
	var cols []string
	for _, c := range s.Columns {
		cols = append(cols, fmt.Sprintf("t0.%s::text", pq.QuoteIdentifier(c)))
	}

	var joins []string
	for i, a := range s.Associations {
		alias := fmt.Sprintf("t%d", i+1)
		for _, c := range a.Columns {
			cols = append(cols, fmt.Sprintf("%s.%s::text", alias, pq.QuoteIdentifier(c)))
		}

		var on string
		switch a.Kind {
		case HasOne:
			on = fmt.Sprintf("%s.%s = t0.%s", alias, pq.QuoteIdentifier(a.ForeignKey), pq.QuoteIdentifier(s.PrimaryKey))
		case BelongsTo:
			on = fmt.Sprintf("%s.%s = t0.%s", alias, pq.QuoteIdentifier(a.primaryKey()), pq.QuoteIdentifier(a.ForeignKey))
		}
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s", pq.QuoteIdentifier(a.Table), alias, on))
	}

	query := fmt.Sprintf("SELECT %s FROM %s t0", strings.Join(cols, ", "), pq.QuoteIdentifier(s.Table))
	if len(joins) > 0 {
		query += " " + strings.Join(joins, " ")
	}
	return query
}

// scanRow reads one result row into grouped records
func (t *PostgresTable) scanRow(rows *sql.Rows) (normalize.Record, error) {
	width := len(t.schema.Columns)
	for _, a := range t.schema.Associations {
		width += len(a.Columns)
	}

	raw := make([]sql.NullString, width)
	dest := make([]any, width)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	pos := 0
	group := func(columns []string) normalize.Record {
		rec := make(normalize.Record, 0, len(columns))
		for _, c := range columns {
			var v any
			if raw[pos].Valid {
				v = raw[pos].String
			}
			rec = append(rec, normalize.Field{Key: c, Value: v})
			pos++
		}
		return rec
	}

	row := normalize.Record{{Key: t.schema.Entity, Value: group(t.schema.Columns)}}
	for _, a := range t.schema.Associations {
		row = append(row, normalize.Field{Key: a.Alias, Value: group(a.Columns)})
	}
	return row, nil
}

// Find returns all rows ordered by primary key
func (t *PostgresTable) Find(ctx context.Context) ([]normalize.Record, error) {
	query := t.selectSQL + fmt.Sprintf(" ORDER BY t0.%s ASC", pq.QuoteIdentifier(t.schema.PrimaryKey))

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.schema.Table, err)
	}
	defer rows.Close()

	var result []normalize.Record
	for rows.Next() {
		row, err := t.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t.schema.Table, err)
	}

	return result, nil
}

// Get retrieves a row by primary key
func (t *PostgresTable) Get(ctx context.Context, id string) (normalize.Record, error) {
	query := t.selectSQL + fmt.Sprintf(" WHERE t0.%s::text = $1", pq.QuoteIdentifier(t.schema.PrimaryKey))

	rows, err := t.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", t.schema.Entity, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", t.schema.Entity, err)
		}
		return nil, fmt.Errorf("%s %s: %w", t.schema.Entity, id, ErrNotFound)
	}

	return t.scanRow(rows)
}

// Save inserts a new row and reads back its id, or updates an existing row
func (t *PostgresTable) Save(ctx context.Context, entity *Entity) error {
	columns, values := columnValues(t.schema, entity.Fields)
	pk := pq.QuoteIdentifier(t.schema.PrimaryKey)

	if entity.IsNew() {
		quoted := make([]string, len(columns))
		params := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = pq.QuoteIdentifier(c)
			params[i] = fmt.Sprintf("$%d", i+1)
		}

		var query string
		if len(columns) == 0 {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s::text",
				pq.QuoteIdentifier(t.schema.Table), pk)
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s::text",
				pq.QuoteIdentifier(t.schema.Table), strings.Join(quoted, ", "), strings.Join(params, ", "), pk)
		}

		var id string
		if err := t.db.QueryRowContext(ctx, query, values...).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert %s: %w", t.schema.Entity, err)
		}
		entity.ID = id
		return nil
	}

	if len(columns) == 0 {
		// nothing to write, but the row must exist
		_, err := t.Get(ctx, entity.ID)
		return err
	}

	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s::text = $%d",
		pq.QuoteIdentifier(t.schema.Table), strings.Join(sets, ", "), pk, len(columns)+1)

	result, err := t.db.ExecContext(ctx, query, append(values, entity.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.schema.Entity, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", t.schema.Entity, entity.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a row by primary key
func (t *PostgresTable) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s::text = $1",
		pq.QuoteIdentifier(t.schema.Table), pq.QuoteIdentifier(t.schema.PrimaryKey))

	result, err := t.db.ExecContext(ctx, query, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return fmt.Errorf("%s %s is still referenced: %w", t.schema.Entity, id, err)
		}
		return fmt.Errorf("failed to delete %s: %w", t.schema.Entity, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", t.schema.Entity, id, ErrNotFound)
	}

	return nil
}
