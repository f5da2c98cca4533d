package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/tally/internal/connectivity"
	"github.com/hyperengineering/tally/internal/engine"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

const (
	DefaultPushInterval    = 30 * time.Second
	DefaultCleanupInterval = time.Hour
	DefaultSummaryHour     = 22
)

// SyncEngine defines the engine operations driven by the orchestrator.
type SyncEngine interface {
	GetStats(ctx context.Context) (tallysync.SyncStats, error)
	PushPending(ctx context.Context) (engine.PushResult, error)
	PushDailySummary(ctx context.Context, tenant string, day time.Time) (bool, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Connectivity reports the network state and its transitions.
type Connectivity interface {
	State() connectivity.State
	Subscribe() <-chan connectivity.State
}

// Config schedules the orchestrator. A zero BackupInterval or a nil backup
// job disables backups.
type Config struct {
	Tenant          string
	PushInterval    time.Duration
	CleanupInterval time.Duration
	BackupInterval  time.Duration
	SummaryHour     int
}

// Orchestrator schedules pushes, daily summaries, cleanup and backups.
// Pushes run on a single consumer goroutine fed by a one-slot queue, so
// requests made while a push is queued coalesce.
type Orchestrator struct {
	engine SyncEngine
	conn   Connectivity
	backup BackupJob
	cfg    Config
	now    func() time.Time

	queue       chan struct{}
	summarizing atomic.Bool
}

// NewOrchestrator creates an orchestrator. backup may be nil.
func NewOrchestrator(e SyncEngine, conn Connectivity, backup BackupJob, cfg Config) *Orchestrator {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultPushInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	return &Orchestrator{
		engine: e,
		conn:   conn,
		backup: backup,
		cfg:    cfg,
		now:    time.Now,
		queue:  make(chan struct{}, 1),
	}
}

// RequestPush enqueues a push unless one is already queued.
func (o *Orchestrator) RequestPush() {
	select {
	case o.queue <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. On return every helper goroutine has
// exited; a push already in flight is allowed to finish.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "orchestrator",
		"push_interval", o.cfg.PushInterval.String(),
		"tenant_id", o.cfg.Tenant,
	)

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { o.consume(ctx) })
	spawn(func() { NewCleanupWorker(o.engine, o.cfg.CleanupInterval).Run(ctx) })
	if o.backup != nil && o.cfg.BackupInterval > 0 {
		spawn(func() { NewBackupWorker(o.backup, o.cfg.BackupInterval).Run(ctx) })
	}

	states := o.conn.Subscribe()
	if o.conn.State() == connectivity.Online {
		o.RequestPush()
	}

	ticker := time.NewTicker(o.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "orchestrator",
				"reason", "context_cancelled",
			)
			return
		case s := <-states:
			if s == connectivity.Online {
				o.RequestPush()
			}
		case <-ticker.C:
			o.tick(ctx, spawn)
		}
	}
}

// tick runs the periodic push check and the daily summary check.
func (o *Orchestrator) tick(ctx context.Context, spawn func(func())) {
	if o.conn.State() != connectivity.Online {
		return
	}

	stats, err := o.engine.GetStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("failed to read sync stats",
				"component", "worker",
				"worker", "orchestrator",
				"error", err,
			)
		}
	} else if stats.Pending > 0 {
		o.RequestPush()
	}

	now := o.now()
	if o.cfg.Tenant == "" || now.Hour() < o.cfg.SummaryHour {
		return
	}
	if !o.summarizing.CompareAndSwap(false, true) {
		return
	}
	spawn(func() {
		defer o.summarizing.Store(false)
		o.summarize(ctx, now)
	})
}

func (o *Orchestrator) summarize(ctx context.Context, day time.Time) {
	pushed, err := o.engine.PushDailySummary(ctx, o.cfg.Tenant, day)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("daily summary failed",
				"component", "worker",
				"worker", "orchestrator",
				"action", "summary_failed",
				"tenant_id", o.cfg.Tenant,
				"error", err,
			)
		}
		return
	}
	if pushed {
		slog.Info("daily summary submitted",
			"component", "worker",
			"worker", "orchestrator",
			"action", "summary_submitted",
			"tenant_id", o.cfg.Tenant,
			"date", day.Format(time.DateOnly),
		)
	}
}

// consume is the only goroutine that calls PushPending.
func (o *Orchestrator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.queue:
			if ctx.Err() != nil {
				return
			}
			o.push(context.WithoutCancel(ctx))
		}
	}
}

func (o *Orchestrator) push(ctx context.Context) {
	result, err := o.engine.PushPending(ctx)
	switch {
	case errors.Is(err, engine.ErrPushInProgress):
		slog.Debug("push skipped, already running",
			"component", "worker",
			"worker", "orchestrator",
		)
	case err != nil:
		slog.Warn("push failed",
			"component", "worker",
			"worker", "orchestrator",
			"action", "push_failed",
			"error", err,
		)
	case result.Synced > 0 || result.Failed > 0:
		slog.Info("push completed",
			"component", "worker",
			"worker", "orchestrator",
			"action", "push_complete",
			"synced", result.Synced,
			"failed", result.Failed,
			"transient", result.Transient,
		)
	}
}
