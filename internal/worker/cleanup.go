package worker

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner purges synced change-log entries past retention.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// CleanupWorker periodically purges the change log.
type CleanupWorker struct {
	cleaner  Cleaner
	interval time.Duration
}

// NewCleanupWorker creates a worker running c every interval.
func NewCleanupWorker(c Cleaner, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{
		cleaner:  c,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *CleanupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "change-log-cleanup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "change-log-cleanup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runCleanup(ctx)
		}
	}
}

func (w *CleanupWorker) runCleanup(ctx context.Context) {
	start := time.Now()

	purged, err := w.cleaner.Cleanup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("cleanup failed",
			"component", "worker",
			"action", "cleanup_failed",
			"error", err,
		)
		return
	}

	slog.Info("cleanup cycle completed",
		"component", "worker",
		"action", "cleanup_complete",
		"purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
