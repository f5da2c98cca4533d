// Package hydrate performs the cold-start download of a tenant's data.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

// DefaultBatchSize is the page size of a bulk download.
const DefaultBatchSize = 500

// State of a table within a hydration run.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// TableProgress reports the state of one table.
type TableProgress struct {
	Table string `json:"table"`
	State State  `json:"state"`
	Pages int    `json:"pages"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

// Report summarizes a hydration run. Complete is true only when every
// table flagged for hydration is marked done.
type Report struct {
	Tenant   string          `json:"tenant"`
	Tables   []TableProgress `json:"tables"`
	Complete bool            `json:"complete"`
}

// Store defines the store operations needed by hydration.
type Store interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	ReplaceRows(ctx context.Context, table string, rows []store.Row) (int, error)
	Registry() *schema.Registry
}

// Service downloads tenants table by table. Completed tenants are
// remembered for the lifetime of the Service.
type Service struct {
	store     Store
	backend   remote.Backend
	batchSize int
	now       func() time.Time

	mu       sync.Mutex
	hydrated map[string]bool
}

// New creates a hydration service. A non-positive batchSize takes
// DefaultBatchSize; one above remote.MaxPageSize is lowered to it.
func New(s Store, backend remote.Backend, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > remote.MaxPageSize {
		batchSize = remote.MaxPageSize
	}
	return &Service{
		store:     s,
		backend:   backend,
		batchSize: batchSize,
		now:       time.Now,
		hydrated:  make(map[string]bool),
	}
}

// Reset forgets which tenants completed. Markers in the store are kept.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrated = make(map[string]bool)
}

func (s *Service) remembered(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated[tenant]
}

// IsHydrated reports whether every hydration table of tenant is marked.
func (s *Service) IsHydrated(ctx context.Context, tenant string) (bool, error) {
	if s.remembered(tenant) {
		return true, nil
	}
	for _, tbl := range s.store.Registry().HydrationTables() {
		marked, err := s.marked(ctx, tbl.Name, tenant)
		if err != nil {
			return false, err
		}
		if !marked {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) marked(ctx context.Context, table, tenant string) (bool, error) {
	_, err := s.store.GetMeta(ctx, tallysync.HydratedKey(table, tenant))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read hydration marker: %w", err)
	}
}

// HydrateTenant downloads every unmarked hydration table of tenant in
// registry order. A failing table is reported and left unmarked; the
// remaining tables still run. onProgress, when non-nil, receives every
// state change. The returned error is non-nil only when ctx ends the run.
func (s *Service) HydrateTenant(ctx context.Context, tenant string, onProgress func(TableProgress)) (Report, error) {
	tables := s.store.Registry().HydrationTables()
	report := Report{Tenant: tenant, Tables: make([]TableProgress, 0, len(tables))}
	notify := func(p TableProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if s.remembered(tenant) {
		for _, tbl := range tables {
			report.Tables = append(report.Tables, TableProgress{Table: tbl.Name, State: StateDone})
		}
		report.Complete = true
		return report, nil
	}

	complete := true
	for _, tbl := range tables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p := s.hydrateTable(ctx, tbl, tenant, notify)
		report.Tables = append(report.Tables, p)
		if p.State != StateDone {
			complete = false
		}
	}

	report.Complete = complete
	if complete {
		s.mu.Lock()
		s.hydrated[tenant] = true
		s.mu.Unlock()
	}

	slog.Info("hydration finished",
		"component", "hydration",
		"action", "hydrate",
		"tenant_id", tenant,
		"complete", complete,
	)
	return report, nil
}

func (s *Service) hydrateTable(ctx context.Context, tbl schema.TableSchema, tenant string, notify func(TableProgress)) TableProgress {
	p := TableProgress{Table: tbl.Name, State: StatePending}
	fail := func(err error) TableProgress {
		p.State = StateError
		p.Error = err.Error()
		notify(p)
		slog.Warn("table hydration aborted",
			"component", "hydration",
			"table", tbl.Name,
			"tenant_id", tenant,
			"pages", p.Pages,
			"error", err,
		)
		return p
	}

	marked, err := s.marked(ctx, tbl.Name, tenant)
	if err != nil {
		return fail(err)
	}
	if marked {
		p.State = StateDone
		notify(p)
		return p
	}

	p.State = StateRunning
	notify(p)

	for offset := 0; ; offset += s.batchSize {
		page, err := s.backend.SelectRange(ctx, tbl.Collection, remote.RangeQuery{
			TenantID: tenant,
			Order:    schema.ColID,
			Offset:   offset,
			Limit:    s.batchSize,
		})
		if err != nil {
			return fail(fmt.Errorf("fetch page at offset %d: %w", offset, err))
		}

		if len(page) > 0 {
			syncedAt := schema.FormatTime(s.now())
			rows := make([]store.Row, 0, len(page))
			for _, remoteRow := range page {
				local, err := tbl.LocalRowFromRemote(remoteRow)
				if err != nil {
					return fail(fmt.Errorf("convert row at offset %d: %w", offset, err))
				}
				if tbl.HasColumn(schema.ColSyncedAt) {
					local[schema.ColSyncedAt] = syncedAt
				}
				rows = append(rows, local)
			}
			if _, err := s.store.ReplaceRows(ctx, tbl.Name, rows); err != nil {
				return fail(fmt.Errorf("write page at offset %d: %w", offset, err))
			}
		}

		p.Pages++
		p.Rows += len(page)
		notify(p)

		if len(page) < s.batchSize {
			break
		}
	}

	if err := s.store.SetMeta(ctx, tallysync.HydratedKey(tbl.Name, tenant), schema.FormatTime(s.now())); err != nil {
		return fail(fmt.Errorf("set hydration marker: %w", err))
	}
	p.State = StateDone
	notify(p)
	return p
}
