package worker

import (
	"context"
	"log/slog"
	"time"
)

// BackupJob snapshots and uploads the local database, returning the
// object key.
type BackupJob interface {
	Run(ctx context.Context) (string, error)
}

// BackupWorker runs a backup on start and then on every interval.
type BackupWorker struct {
	job      BackupJob
	interval time.Duration
}

// NewBackupWorker creates a worker with the given job and interval.
func NewBackupWorker(job BackupJob, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		job:      job,
		interval: interval,
	}
}

// Run starts the worker loop. Respects context cancellation for graceful
// shutdown.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runBackup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runBackup(ctx)
		}
	}
}

// runBackup runs one backup. Upload failures are logged; the local
// snapshot remains valid.
func (w *BackupWorker) runBackup(ctx context.Context) {
	slog.Info("backup started",
		"component", "worker",
		"action", "backup_start",
	)

	if _, err := w.job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup failed",
			"component", "worker",
			"action", "backup_failed",
			"error", err,
		)
	}
}
