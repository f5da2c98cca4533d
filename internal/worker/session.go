package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/tally/internal/configsync"
	"github.com/hyperengineering/tally/internal/connectivity"
	"github.com/hyperengineering/tally/internal/hydrate"
)

// DefaultConfigCheckInterval is how often an online device rechecks its
// configuration staleness.
const DefaultConfigCheckInterval = 5 * time.Minute

// Hydrator downloads a tenant's tables on first use.
type Hydrator interface {
	IsHydrated(ctx context.Context, tenant string) (bool, error)
	HydrateTenant(ctx context.Context, tenant string, onProgress func(hydrate.TableProgress)) (hydrate.Report, error)
}

// ConfigSyncer refreshes the tenant's reference configuration.
type ConfigSyncer interface {
	NeedsConfigSync(ctx context.Context, tenant string) (bool, error)
	SyncConfigs(ctx context.Context, tenant string) (configsync.SyncResult, error)
}

// SessionWorker brings a tenant's local data up to date whenever the
// device comes online, and again every interval while it stays online. It
// hydrates a tenant that is not yet hydrated and refreshes stale
// configuration.
type SessionWorker struct {
	tenant   string
	conn     Connectivity
	hydrate  Hydrator
	configs  ConfigSyncer
	interval time.Duration
}

// NewSessionWorker creates a session worker for tenant. A non-positive
// interval takes DefaultConfigCheckInterval.
func NewSessionWorker(tenant string, conn Connectivity, h Hydrator, c ConfigSyncer, interval time.Duration) *SessionWorker {
	if interval <= 0 {
		interval = DefaultConfigCheckInterval
	}
	return &SessionWorker{
		tenant:   tenant,
		conn:     conn,
		hydrate:  h,
		configs:  c,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled.
func (w *SessionWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "session",
		"tenant_id", w.tenant,
		"interval", w.interval.String(),
	)

	states := w.conn.Subscribe()
	if w.conn.State() == connectivity.Online {
		w.refresh(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "session",
				"reason", "context_cancelled",
			)
			return
		case s := <-states:
			if s == connectivity.Online {
				w.refresh(ctx)
			}
		case <-ticker.C:
			if w.conn.State() == connectivity.Online {
				w.refresh(ctx)
			}
		}
	}
}

func (w *SessionWorker) refresh(ctx context.Context) {
	if w.hydrate != nil {
		w.refreshData(ctx)
	}
	if w.configs != nil {
		w.refreshConfig(ctx)
	}
}

func (w *SessionWorker) refreshData(ctx context.Context) {
	done, err := w.hydrate.IsHydrated(ctx, w.tenant)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("hydration check failed",
				"component", "worker",
				"worker", "session",
				"tenant_id", w.tenant,
				"error", err,
			)
		}
		return
	}
	if done {
		return
	}

	report, err := w.hydrate.HydrateTenant(ctx, w.tenant, nil)
	if err != nil {
		return
	}
	slog.Info("hydration pass finished",
		"component", "worker",
		"worker", "session",
		"action", "hydration_pass",
		"tenant_id", w.tenant,
		"complete", report.Complete,
	)
}

func (w *SessionWorker) refreshConfig(ctx context.Context) {
	needed, err := w.configs.NeedsConfigSync(ctx, w.tenant)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("config staleness check failed",
				"component", "worker",
				"worker", "session",
				"tenant_id", w.tenant,
				"error", err,
			)
		}
		return
	}
	if !needed {
		return
	}

	result, err := w.configs.SyncConfigs(ctx, w.tenant)
	if err != nil {
		return
	}
	slog.Info("config sync finished",
		"component", "worker",
		"worker", "session",
		"action", "config_sync",
		"tenant_id", w.tenant,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
}
