package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Snapshotter writes a consistent copy of the local database to path.
type Snapshotter interface {
	GenerateSnapshot(ctx context.Context, path string) error
	DeviceID() string
}

// Backup snapshots the local store into dir and uploads the copy.
// The latest snapshot stays on disk as dir/local.db.
type Backup struct {
	store    Snapshotter
	uploader Uploader
	tenant   string
	dir      string
	now      func() time.Time
}

// NewBackup creates a backup job for tenant writing its snapshot under dir.
func NewBackup(s Snapshotter, uploader Uploader, tenant, dir string) *Backup {
	if uploader == nil {
		uploader = NoopUploader{}
	}
	return &Backup{
		store:    s,
		uploader: uploader,
		tenant:   tenant,
		dir:      dir,
		now:      time.Now,
	}
}

// Path returns where the latest local snapshot is written.
func (b *Backup) Path() string {
	return filepath.Join(b.dir, "local.db")
}

// DownloadURL links to an uploaded backup for ttl.
func (b *Backup) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return b.uploader.DownloadURL(ctx, key, ttl)
}

// Run generates a snapshot and uploads it. It returns the object key.
// A failed upload leaves the local snapshot in place.
func (b *Backup) Run(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	path := b.Path()
	if err := b.store.GenerateSnapshot(ctx, path); err != nil {
		return "", fmt.Errorf("generate snapshot: %w", err)
	}

	key := ObjectKey(b.tenant, b.store.DeviceID(), b.now())
	size, err := b.uploader.Upload(ctx, key, path)
	if err != nil {
		return "", err
	}

	slog.Info("backup completed",
		"component", "backup",
		"action", "backup_uploaded",
		"tenant_id", b.tenant,
		"key", key,
		"bytes", size,
	)
	return key, nil
}
