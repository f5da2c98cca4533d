package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/tally/internal/schema"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

const insertChangeLogSQL = `
	INSERT INTO change_log (table_name, record_id, operation, payload, status, source_id, created_at)
	VALUES (?, ?, ?, ?, 'pending', ?, ?)`

const selectChangeLogSQL = `
	SELECT id, table_name, record_id, operation, payload, status, error, source_id, created_at, synced_at
	FROM change_log`

// appendChangeLog records a mutation inside the caller's transaction.
func (s *SQLiteStore) appendChangeLog(ctx context.Context, tx *sql.Tx, table, recordID, op string, payload json.RawMessage, at string) error {
	_, err := tx.ExecContext(ctx, insertChangeLogSQL,
		table, recordID, op, nullablePayload(payload), s.deviceID, at)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// PendingEntries returns up to limit pending entries in creation order.
func (s *SQLiteStore) PendingEntries(ctx context.Context, limit int) ([]tallysync.ChangeLogEntry, error) {
	return s.Entries(ctx, tallysync.StatusPending, limit)
}

// Entries returns up to limit entries with the given status in creation
// order. An empty status matches every entry; a non-positive limit returns
// all of them.
func (s *SQLiteStore) Entries(ctx context.Context, status string, limit int) ([]tallysync.ChangeLogEntry, error) {
	query := selectChangeLogSQL
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query change log", "", err)
	}
	defer rows.Close()

	entries := make([]tallysync.ChangeLogEntry, 0)
	for rows.Next() {
		e, err := scanChangeLogEntry(rows)
		if err != nil {
			return nil, wrapErr("query change log", "", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query change log", "", err)
	}
	return entries, nil
}

func scanChangeLogEntry(scanner interface{ Scan(...any) error }) (tallysync.ChangeLogEntry, error) {
	var e tallysync.ChangeLogEntry
	var payload, errMsg, syncedAt sql.NullString
	var createdAt string

	if err := scanner.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Operation,
		&payload, &e.Status, &errMsg, &e.SourceID, &createdAt, &syncedAt); err != nil {
		return e, fmt.Errorf("scan change log entry: %w", err)
	}

	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.Error = errMsg.String

	var parseErr error
	if e.CreatedAt, parseErr = schema.ParseTime(createdAt); parseErr != nil {
		slog.Warn("change_log: failed to parse created_at", "value", createdAt, "error", parseErr)
	}
	if syncedAt.Valid {
		if t, err := schema.ParseTime(syncedAt.String); err == nil {
			e.SyncedAt = &t
		} else {
			slog.Warn("change_log: failed to parse synced_at", "value", syncedAt.String, "error", err)
		}
	}
	return e, nil
}

// MarkEntrySynced marks an entry delivered and clears its error.
func (s *SQLiteStore) MarkEntrySynced(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_log SET status = 'synced', error = NULL, synced_at = ? WHERE id = ?
	`, schema.FormatTime(at), id)
	if err != nil {
		return wrapErr("mark synced", "", err)
	}
	return wrapErr("mark synced", "", requireAffected(result))
}

// MarkEntryFailed marks an entry failed with the given message.
func (s *SQLiteStore) MarkEntryFailed(ctx context.Context, id int64, msg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_log SET status = 'failed', error = ? WHERE id = ?
	`, msg, id)
	if err != nil {
		return wrapErr("mark failed", "", err)
	}
	return wrapErr("mark failed", "", requireAffected(result))
}

// ResetFailed returns every failed entry to pending and clears its error.
// Returns the number of entries reset.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_log SET status = 'pending', error = NULL WHERE status = 'failed'
	`)
	if err != nil {
		return 0, wrapErr("reset failed", "", err)
	}
	return result.RowsAffected()
}

// PurgeSynced deletes synced entries whose synced_at is before the given
// time. Pending and failed entries are never removed.
func (s *SQLiteStore) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM change_log WHERE status = 'synced' AND synced_at IS NOT NULL AND synced_at < ?
	`, schema.FormatTime(before))
	if err != nil {
		return 0, wrapErr("purge synced", "", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of entries per status. LastSyncAt is
// left unset.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (tallysync.SyncStats, error) {
	var stats tallysync.SyncStats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM change_log GROUP BY status`)
	if err != nil {
		return stats, wrapErr("count change log", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, wrapErr("count change log", "", err)
		}
		switch status {
		case tallysync.StatusPending:
			stats.Pending = n
		case tallysync.StatusSynced:
			stats.Synced = n
		case tallysync.StatusFailed:
			stats.Failed = n
		}
	}
	return stats, wrapErr("count change log", "", rows.Err())
}

// MarkRecordSynced stamps synced_at on a record without producing a change
// log entry. Returns ErrNotFound if the record no longer exists.
func (s *SQLiteStore) MarkRecordSynced(ctx context.Context, table, id string, at time.Time) error {
	tbl, err := s.registry.Lookup(table)
	if err != nil {
		return wrapErr("mark record synced", table, err)
	}
	if !tbl.HasColumn(schema.ColSyncedAt) {
		return nil
	}
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", tbl.Name, schema.ColSyncedAt, schema.ColID),
		schema.FormatTime(at), id)
	if err != nil {
		return wrapErr("mark record synced", table, err)
	}
	return wrapErr("mark record synced", table, requireAffected(result))
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
