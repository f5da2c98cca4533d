package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperengineering/tally/internal/schema"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

// queryContext is satisfied by both *sql.DB and *sql.Tx.
type queryContext interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Select returns the rows of table matching q.
func (s *SQLiteStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return nil, wrapErr("select", table, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(tbl.ColumnNames(), ", "), tbl.Name)
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		order, err := orderClause(tbl, q.OrderBy)
		if err != nil {
			return nil, wrapErr("select", table, err)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(order)
	}
	args := q.Args
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(append([]any{}, q.Args...), q.Limit)
	}

	rows, err := queryRows(ctx, s.db, b.String(), args...)
	if err != nil {
		return nil, wrapErr("select", table, err)
	}
	return rows, nil
}

// SelectByID returns the row of table with the given id.
// Returns ErrNotFound if no such row exists.
func (s *SQLiteStore) SelectByID(ctx context.Context, table, id string) (Row, error) {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return nil, wrapErr("select", table, err)
	}
	row, err := selectByID(ctx, s.db, tbl, id)
	if err != nil {
		return nil, wrapErr("select", table, err)
	}
	return row, nil
}

// Insert writes a new row and appends an INSERT change log entry carrying
// the materialized row. A missing id is generated, as are missing
// created_at and updated_at stamps.
func (s *SQLiteStore) Insert(ctx context.Context, table string, fields map[string]any) (Row, error) {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return nil, wrapErr("insert", table, err)
	}

	values := copyFields(fields)
	if id, _ := values[schema.ColID].(string); id == "" {
		values[schema.ColID] = uuid.NewString()
	}
	now := s.timestamp()
	if values[schema.ColCreatedAt] == nil {
		values[schema.ColCreatedAt] = now
	}
	if values[schema.ColUpdatedAt] == nil {
		values[schema.ColUpdatedAt] = now
	}

	encoded, err := tbl.EncodeRow(values)
	if err != nil {
		return nil, wrapErr("insert", table, err)
	}
	id, ok := encoded[schema.ColID].(string)
	if !ok || id == "" {
		return nil, wrapErr("insert", table, fmt.Errorf("%w: id must be a non-empty string", schema.ErrInvalidValue))
	}

	cols, args := sortedColumns(encoded)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl.Name, strings.Join(cols, ", "), placeholders)

	var row Row
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
		row, err = selectByID(ctx, tx, tbl, id)
		if err != nil {
			return fmt.Errorf("read back inserted row: %w", err)
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		return s.appendChangeLog(ctx, tx, tbl.Name, id, tallysync.OperationInsert, payload, now)
	})
	if err != nil {
		return nil, wrapErr("insert", table, err)
	}
	return row, nil
}

// Update writes fields to the row with the given id, stamps updated_at and
// appends an UPDATE change log entry carrying the partial update.
// Returns ErrNotFound if no such row exists.
func (s *SQLiteStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return wrapErr("update", table, err)
	}

	values := copyFields(fields)
	delete(values, schema.ColID)
	now := s.timestamp()
	values[schema.ColUpdatedAt] = now

	encoded, err := tbl.EncodeRow(values)
	if err != nil {
		return wrapErr("update", table, err)
	}

	cols, args := sortedColumns(encoded)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", tbl.Name, strings.Join(sets, ", "), schema.ColID)
	args = append(args, id)

	payload, err := json.Marshal(encoded)
	if err != nil {
		return wrapErr("update", table, fmt.Errorf("marshal payload: %w", err))
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return s.appendChangeLog(ctx, tx, tbl.Name, id, tallysync.OperationUpdate, payload, now)
	})
	return wrapErr("update", table, err)
}

// Delete removes the row with the given id and appends a DELETE change log
// entry with no payload. Returns ErrNotFound if no such row exists.
func (s *SQLiteStore) Delete(ctx context.Context, table, id string) error {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return wrapErr("delete", table, err)
	}

	now := s.timestamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", tbl.Name, schema.ColID), id)
		if err != nil {
			return err
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return s.appendChangeLog(ctx, tx, tbl.Name, id, tallysync.OperationDelete, nil, now)
	})
	return wrapErr("delete", table, err)
}

// Raw runs an arbitrary read query.
func (s *SQLiteStore) Raw(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := queryRows(ctx, s.db, query, args...)
	if err != nil {
		return nil, wrapErr("raw", "", err)
	}
	return rows, nil
}

// Execute runs an arbitrary statement without touching the change log.
// Returns the number of affected rows.
func (s *SQLiteStore) Execute(ctx context.Context, statement string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, wrapErr("execute", "", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrapErr("execute", "", err)
	}
	return n, nil
}

// ReplaceRows writes downloaded rows with INSERT OR REPLACE in a single
// transaction and returns how many were written. Nothing is appended to the
// change log. A row whose id still has a pending or failed change-log entry
// is skipped, so unpushed local edits and deletes are not reverted.
func (s *SQLiteStore) ReplaceRows(ctx context.Context, table string, rows []Row) (int, error) {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return 0, wrapErr("replace", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	written := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for i, r := range rows {
			encoded, err := tbl.EncodeRow(r)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			if id, ok := encoded[schema.ColID].(string); ok {
				unsynced, err := hasUnsyncedChange(ctx, tx, tbl.Name, id)
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				if unsynced {
					continue
				}
			}
			cols, args := sortedColumns(encoded)
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
			stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
				tbl.Name, strings.Join(cols, ", "), placeholders)
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("replace", table, err)
	}
	if skipped := len(rows) - written; skipped > 0 {
		slog.Debug("kept local rows with unpushed changes",
			"component", "store",
			"table", table,
			"skipped", skipped,
		)
	}
	return written, nil
}

// hasUnsyncedChange reports whether a change-log entry for the record has
// not reached the remote yet.
func hasUnsyncedChange(ctx context.Context, tx *sql.Tx, table, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_log
		 WHERE table_name = ? AND record_id = ? AND status IN (?, ?)`,
		table, id, tallysync.StatusPending, tallysync.StatusFailed,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check change log: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func selectByID(ctx context.Context, q queryContext, tbl schema.TableSchema, id string) (Row, error) {
	rows, err := queryRows(ctx, q,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(tbl.ColumnNames(), ", "), tbl.Name, schema.ColID),
		id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// queryRows scans every result row into a Row. BLOB values are returned as
// strings.
func queryRows(ctx context.Context, q queryContext, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// orderClause validates an OrderBy expression against the table columns.
func orderClause(tbl schema.TableSchema, orderBy string) (string, error) {
	parts := strings.Split(orderBy, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 || len(fields) > 2 {
			return "", fmt.Errorf("%w: invalid order %q", schema.ErrInvalidValue, orderBy)
		}
		if !tbl.HasColumn(fields[0]) {
			return "", fmt.Errorf("%w %s.%s", ErrUnknownColumn, tbl.Name, fields[0])
		}
		term := fields[0]
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", fmt.Errorf("%w: invalid order direction %q", schema.ErrInvalidValue, fields[1])
			}
			term += " " + dir
		}
		out = append(out, term)
	}
	return strings.Join(out, ", "), nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// sortedColumns returns column names in a stable order with their values.
func sortedColumns(values map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return cols, args
}
