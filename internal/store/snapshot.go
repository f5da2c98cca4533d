package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateSnapshot writes a consistent copy of the database to path using
// VACUUM INTO. The copy is written beside path and renamed into place, so a
// reader never observes a partial file.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrapErr("snapshot", "", fmt.Errorf("create snapshot directory: %w", err))
	}

	tmp := path + ".tmp"
	// VACUUM INTO refuses to overwrite an existing file
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return wrapErr("snapshot", "", fmt.Errorf("remove stale snapshot: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		os.Remove(tmp)
		return wrapErr("snapshot", "", fmt.Errorf("vacuum into: %w", err))
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return wrapErr("snapshot", "", fmt.Errorf("replace snapshot: %w", err))
	}
	return nil
}
