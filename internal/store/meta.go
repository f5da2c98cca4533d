package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetMeta retrieves a sync metadata value by key.
// Returns ErrNotFound when the key is not set.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &Error{Op: "get meta", Err: fmt.Errorf("key %q: %w", key, ErrNotFound)}
	}
	if err != nil {
		return "", wrapErr("get meta", "", err)
	}
	return value, nil
}

// SetMeta sets a sync metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	return wrapErr("set meta", "", err)
}

// DeleteMeta removes a sync metadata key. Deleting a missing key is not an
// error.
func (s *SQLiteStore) DeleteMeta(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_meta WHERE key = ?`, key)
	return wrapErr("delete meta", "", err)
}
