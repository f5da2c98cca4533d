// Package engine replays the local change log against the remote backend.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

const (
	DefaultBatchSize = 50
	DefaultRetention = 7 * 24 * time.Hour
)

// ErrPushInProgress is returned when PushPending is called while another
// pass is running.
var ErrPushInProgress = errors.New("push already in progress")

// Store defines the store operations needed by the sync engine.
type Store interface {
	PendingEntries(ctx context.Context, limit int) ([]tallysync.ChangeLogEntry, error)
	MarkEntrySynced(ctx context.Context, id int64, at time.Time) error
	MarkEntryFailed(ctx context.Context, id int64, msg string) error
	ResetFailed(ctx context.Context) (int64, error)
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (tallysync.SyncStats, error)
	MarkRecordSynced(ctx context.Context, table, id string, at time.Time) error
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	Raw(ctx context.Context, query string, args ...any) ([]store.Row, error)
	Registry() *schema.Registry
}

// Config holds the tunables of the engine. Zero values take the defaults.
type Config struct {
	BatchSize int
	Retention time.Duration
}

// PushResult counts the outcome of one push pass.
type PushResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
	// Transient counts the failures caused by network or server errors,
	// which a later RetryFailed is expected to clear.
	Transient int `json:"transient"`
}

// Engine pushes pending change log entries to the remote backend.
type Engine struct {
	store   Store
	backend remote.Backend
	cfg     Config
	now     func() time.Time
	pushing atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for sync timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a sync engine.
func New(s Store, backend remote.Backend, cfg Config, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	e := &Engine{store: s, backend: backend, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetStats returns change log counts and the time of the last pass that
// delivered anything.
func (e *Engine) GetStats(ctx context.Context) (tallysync.SyncStats, error) {
	stats, err := e.store.CountByStatus(ctx)
	if err != nil {
		return stats, fmt.Errorf("count change log: %w", err)
	}

	v, err := e.store.GetMeta(ctx, tallysync.MetaLastCloudSync)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return stats, fmt.Errorf("read last sync: %w", err)
	default:
		if t, err := schema.ParseTime(v); err == nil {
			stats.LastSyncAt = &t
		}
	}
	return stats, nil
}

// PushPending delivers up to BatchSize pending entries in creation order.
// Each entry ends synced or failed; a failed entry waits for RetryFailed.
// Returns ErrPushInProgress if a pass is already running.
func (e *Engine) PushPending(ctx context.Context) (PushResult, error) {
	var result PushResult
	if !e.pushing.CompareAndSwap(false, true) {
		return result, ErrPushInProgress
	}
	defer e.pushing.Store(false)

	entries, err := e.store.PendingEntries(ctx, e.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("load pending entries: %w", err)
	}
	if len(entries) == 0 {
		return result, nil
	}

	for _, entry := range entries {
		if err := e.pushEntry(ctx, entry); err != nil {
			transient := remote.IsTransient(err)
			result.Failed++
			if transient {
				result.Transient++
			}
			slog.Warn("change log entry failed",
				"component", "sync_engine",
				"action", "push",
				"entry_id", entry.ID,
				"table", entry.TableName,
				"record_id", entry.RecordID,
				"operation", entry.Operation,
				"transient", transient,
				"error", err,
			)
			if markErr := e.store.MarkEntryFailed(ctx, entry.ID, err.Error()); markErr != nil {
				slog.Error("failed to mark entry failed",
					"component", "sync_engine",
					"entry_id", entry.ID,
					"error", markErr,
				)
			}
			continue
		}

		now := e.now()
		if err := e.store.MarkEntrySynced(ctx, entry.ID, now); err != nil {
			// Entry stays pending and is redelivered on the next pass
			slog.Error("failed to mark entry synced",
				"component", "sync_engine",
				"entry_id", entry.ID,
				"error", err,
			)
			continue
		}
		result.Synced++

		if entry.Operation != tallysync.OperationDelete {
			if err := e.store.MarkRecordSynced(ctx, entry.TableName, entry.RecordID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Warn("failed to stamp record synced_at",
					"component", "sync_engine",
					"table", entry.TableName,
					"record_id", entry.RecordID,
					"error", err,
				)
			}
		}
	}

	if result.Synced > 0 {
		if err := e.store.SetMeta(ctx, tallysync.MetaLastCloudSync, schema.FormatTime(e.now())); err != nil {
			slog.Error("failed to record last sync time",
				"component", "sync_engine",
				"error", err,
			)
		}
	}

	slog.Info("push pass completed",
		"component", "sync_engine",
		"action", "push",
		"synced", result.Synced,
		"failed", result.Failed,
		"transient", result.Transient,
	)
	return result, nil
}

// pushEntry delivers a single entry. A nil error means the remote holds the
// entry's effect.
func (e *Engine) pushEntry(ctx context.Context, entry tallysync.ChangeLogEntry) error {
	tbl, ok := e.store.Registry().Get(entry.TableName)
	if !ok {
		return fmt.Errorf("unknown table %q", entry.TableName)
	}

	switch entry.Operation {
	case tallysync.OperationInsert:
		row, err := decodePayload(entry.Payload)
		if err != nil {
			return err
		}
		err = e.backend.Upsert(ctx, tbl.Collection, tbl.RemoteRow(row))
		if errors.Is(err, remote.ErrDuplicate) {
			slog.Debug("duplicate insert treated as applied",
				"component", "sync_engine",
				"table", entry.TableName,
				"record_id", entry.RecordID,
			)
			return nil
		}
		return err

	case tallysync.OperationUpdate:
		fields, err := decodePayload(entry.Payload)
		if err != nil {
			return err
		}
		return e.backend.UpdateByID(ctx, tbl.Collection, entry.RecordID, tbl.RemoteRow(fields))

	case tallysync.OperationDelete:
		err := e.backend.DeleteByID(ctx, tbl.Collection, entry.RecordID)
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown operation %q", entry.Operation)
	}
}

func decodePayload(p json.RawMessage) (map[string]any, error) {
	if len(p) == 0 {
		return nil, errors.New("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// RetryFailed returns every failed entry to pending. Synced entries are
// never touched.
func (e *Engine) RetryFailed(ctx context.Context) (int64, error) {
	n, err := e.store.ResetFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset failed entries: %w", err)
	}
	if n > 0 {
		slog.Info("failed entries returned to pending",
			"component", "sync_engine",
			"action", "retry",
			"count", n,
		)
	}
	return n, nil
}

// Cleanup deletes synced entries older than the retention window.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	n, err := e.store.PurgeSynced(ctx, e.now().Add(-e.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge synced entries: %w", err)
	}
	slog.Info("change log cleanup completed",
		"component", "sync_engine",
		"action", "cleanup",
		"removed", n,
	)
	return n, nil
}
