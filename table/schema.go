package table

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSchema is returned when a resource definition fails validation
var ErrInvalidSchema = errors.New("invalid schema")

const (
	maxIdentifierLength = 63 // postgres NAMEDATALEN - 1
	maxColumns          = 200
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Association kinds
const (
	HasOne    = "hasOne"
	BelongsTo = "belongsTo"
)

// Association describes a related table joined into every row.
// For hasOne the foreign key lives on the associated table and points at the
// primary key; for belongsTo it lives on the primary table.
type Association struct {
	Kind       string   `yaml:"kind"`
	Alias      string   `yaml:"alias"`
	Table      string   `yaml:"table"`
	ForeignKey string   `yaml:"foreignKey"`
	PrimaryKey string   `yaml:"primaryKey"`
	Columns    []string `yaml:"columns"`
}

// Schema describes one resource table
type Schema struct {
	// Alias is the plural resource name used in URLs and view vars, e.g. "Blogs"
	Alias string `yaml:"alias"`
	// Entity is the group name rows are keyed by, e.g. "Blog"
	Entity       string        `yaml:"entity"`
	Table        string        `yaml:"table"`
	PrimaryKey   string        `yaml:"primaryKey"`
	Columns      []string      `yaml:"columns"`
	Associations []Association `yaml:"associations"`
}

// ViewVarPlural is the view variable holding a list of rows
func (s Schema) ViewVarPlural() string {
	return strings.ToLower(s.Alias)
}

// ViewVarSingular is the view variable holding a single row
func (s Schema) ViewVarSingular() string {
	return strings.ToLower(s.Entity)
}

// HasColumn reports whether name is one of the table's own columns
func (s Schema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (a Association) primaryKey() string {
	if a.PrimaryKey == "" {
		return "id"
	}
	return a.PrimaryKey
}

// Validate checks identifiers and structure of the schema
func (s Schema) Validate() error {
	if err := validateName(s.Alias); err != nil {
		return fmt.Errorf("%w: alias %q: %w", ErrInvalidSchema, s.Alias, err)
	}
	if err := validateName(s.Entity); err != nil {
		return fmt.Errorf("%w: entity %q: %w", ErrInvalidSchema, s.Entity, err)
	}
	if err := validateIdentifier(s.Table); err != nil {
		return fmt.Errorf("%w: table %q: %w", ErrInvalidSchema, s.Table, err)
	}
	if err := validateColumns(s.Columns); err != nil {
		return fmt.Errorf("%w: table %q: %w", ErrInvalidSchema, s.Table, err)
	}
	if !s.HasColumn(s.PrimaryKey) {
		return fmt.Errorf("%w: primary key %q is not a column of %q", ErrInvalidSchema, s.PrimaryKey, s.Table)
	}

	seen := map[string]bool{s.Entity: true}
	for _, a := range s.Associations {
		if seen[a.Alias] {
			return fmt.Errorf("%w: duplicate group name %q", ErrInvalidSchema, a.Alias)
		}
		seen[a.Alias] = true

		if a.Kind != HasOne && a.Kind != BelongsTo {
			return fmt.Errorf("%w: association %q has unknown kind %q", ErrInvalidSchema, a.Alias, a.Kind)
		}
		if err := validateName(a.Alias); err != nil {
			return fmt.Errorf("%w: association alias %q: %w", ErrInvalidSchema, a.Alias, err)
		}
		if err := validateIdentifier(a.Table); err != nil {
			return fmt.Errorf("%w: association table %q: %w", ErrInvalidSchema, a.Table, err)
		}
		if err := validateIdentifier(a.ForeignKey); err != nil {
			return fmt.Errorf("%w: association foreign key %q: %w", ErrInvalidSchema, a.ForeignKey, err)
		}
		if err := validateColumns(a.Columns); err != nil {
			return fmt.Errorf("%w: association %q: %w", ErrInvalidSchema, a.Alias, err)
		}
		if a.Kind == BelongsTo && !s.HasColumn(a.ForeignKey) {
			return fmt.Errorf("%w: belongsTo foreign key %q is not a column of %q", ErrInvalidSchema, a.ForeignKey, s.Table)
		}
	}

	return nil
}

func validateColumns(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("must contain at least one column")
	}
	if len(columns) > maxColumns {
		return fmt.Errorf("contains %d columns, maximum allowed is %d", len(columns), maxColumns)
	}

	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if err := validateIdentifier(c); err != nil {
			return fmt.Errorf("invalid column %q: %w", c, err)
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}

// validateIdentifier checks a table or column name
func validateIdentifier(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if isReservedWord(name) {
		return fmt.Errorf("cannot use reserved word %q as identifier", name)
	}
	return nil
}

// validateName checks a group or resource name; reserved words are fine here
// since these never reach SQL
func validateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$")
	}
	return nil
}

func isReservedWord(name string) bool {
	reserved := map[string]bool{
		"all": true, "and": true, "as": true, "by": true, "case": true,
		"check": true, "column": true, "constraint": true, "create": true,
		"default": true, "delete": true, "desc": true, "distinct": true,
		"drop": true, "else": true, "end": true, "false": true, "from": true,
		"grant": true, "group": true, "having": true, "in": true, "insert": true,
		"into": true, "join": true, "limit": true, "not": true, "null": true,
		"offset": true, "on": true, "or": true, "order": true, "references": true,
		"select": true, "table": true, "then": true, "true": true, "union": true,
		"unique": true, "update": true, "user": true, "using": true,
		"when": true, "where": true, "with": true,
	}
	return reserved[strings.ToLower(name)]
}
