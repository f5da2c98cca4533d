package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Registry maps table names to their schemas. It is built once at startup
// and read-only afterwards.
type Registry struct {
	tables map[string]TableSchema
	order  []string
}

// NewRegistry builds a registry from the given tables, preserving their
// order. Returns ErrInvalidSchema for duplicate tables, duplicate columns or
// tables without an id column.
func NewRegistry(tables ...TableSchema) (*Registry, error) {
	r := &Registry{tables: make(map[string]TableSchema, len(tables))}
	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: table name is empty", ErrInvalidSchema)
		}
		if _, exists := r.tables[t.Name]; exists {
			return nil, fmt.Errorf("%w: table %q registered twice", ErrInvalidSchema, t.Name)
		}
		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if seen[c.Name] {
				return nil, fmt.Errorf("%w: column %s.%s declared twice", ErrInvalidSchema, t.Name, c.Name)
			}
			seen[c.Name] = true
		}
		if !seen[ColID] {
			return nil, fmt.Errorf("%w: table %q has no %s column", ErrInvalidSchema, t.Name, ColID)
		}
		if t.Collection == "" {
			t.Collection = t.Name
		}
		r.tables[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(tables ...TableSchema) *Registry {
	r, err := NewRegistry(tables...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the schema for the given table.
func (r *Registry) Get(name string) (TableSchema, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Lookup is like Get but returns ErrUnknownTable for unregistered names.
func (r *Registry) Lookup(name string) (TableSchema, error) {
	t, ok := r.tables[name]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables returns all schemas in registration order.
func (r *Registry) Tables() []TableSchema {
	out := make([]TableSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// HydrationTables returns the tables marked for bulk download, in
// registration order.
func (r *Registry) HydrationTables() []TableSchema {
	var out []TableSchema
	for _, name := range r.order {
		if t := r.tables[name]; t.Hydrate {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks that every registered table and column exists in db.
// Run it after migrations so a registration mistake fails at startup rather
// than during a sync pass.
func (r *Registry) Validate(ctx context.Context, db *sql.DB) error {
	for _, name := range r.order {
		rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", name, err)
		}
		existing := make(map[string]bool)
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				rows.Close()
				return fmt.Errorf("scan column of %s: %w", name, err)
			}
			existing[col] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate columns of %s: %w", name, err)
		}
		rows.Close()

		if len(existing) == 0 {
			return fmt.Errorf("%w %q: not present in database", ErrUnknownTable, name)
		}
		for _, c := range r.tables[name].Columns {
			if !existing[c.Name] {
				return fmt.Errorf("%w %s.%s: not present in database", ErrUnknownColumn, name, c.Name)
			}
		}
	}
	return nil
}
