// Package schema declares the local tables the store may write and the
// remote collections they are replayed into.
package schema

// ColumnType is the logical type of a column. It decides how values are
// encoded in the local store and how they are presented to the remote.
type ColumnType string

const (
	Text    ColumnType = "text"
	Integer ColumnType = "integer"
	Real    ColumnType = "real"
	Bool    ColumnType = "bool"
	JSON    ColumnType = "json"
	Time    ColumnType = "time"
)

// Well-known column names every registered table carries.
const (
	ColID        = "id"
	ColTenantID  = "tenant_id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColSyncedAt  = "synced_at"
)

// Column describes a single column of a table.
type Column struct {
	Name string
	Type ColumnType

	// LocalOnly columns are bookkeeping for the device and are never sent
	// to the remote backend.
	LocalOnly bool
}

// TableSchema declares the structure of a local table.
type TableSchema struct {
	// Name is the SQL table name (must match a migration CREATE TABLE).
	Name string

	// Collection is the remote collection the table is replayed into.
	Collection string

	// Columns lists the columns in table order. Must include "id".
	Columns []Column

	// Hydrate marks the table for the initial bulk download.
	Hydrate bool

	// Immutable marks ledger tables whose remote collection rejects a
	// second insert of the same id.
	Immutable bool
}

// Column returns the column with the given name.
func (t TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has a column with the given name.
func (t TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in table order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
