// Package configsync keeps slow-changing reference data cached on the
// device.
package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

const (
	DefaultStaleness = time.Hour
	pageSize         = 500
)

// Source maps a cache key to the remote collection it is pulled from.
// Single sources cache their first row as an object instead of an array.
type Source struct {
	Key        string
	Collection string
	Single     bool
}

// DefaultSources lists the reference data refreshed by SyncConfigs.
var DefaultSources = []Source{
	{Key: "profile", Collection: "tenant_profiles", Single: true},
	{Key: "fiscal_settings", Collection: "fiscal_settings"},
	{Key: "permission_matrices", Collection: "permission_matrices"},
	{Key: "pricing_settings", Collection: "pricing_settings"},
	{Key: "loyalty_settings", Collection: "loyalty_settings"},
}

// SyncResult lists the cache keys refreshed and the ones that failed.
type SyncResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// MetaStore defines the store operations needed for refresh timestamps.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// ConfigCache is the cache SyncConfigs writes to.
type ConfigCache interface {
	Put(tenant, key string, value json.RawMessage) error
	Get(tenant, key string) (Entry, error)
}

// Service refreshes the config cache from the remote backend.
type Service struct {
	cache     ConfigCache
	meta      MetaStore
	backend   remote.Backend
	sources   []Source
	staleness time.Duration
	now       func() time.Time
}

// New creates a config sync service pulling DefaultSources. A non-positive
// staleness takes DefaultStaleness.
func New(cache ConfigCache, meta MetaStore, backend remote.Backend, staleness time.Duration) *Service {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Service{
		cache:     cache,
		meta:      meta,
		backend:   backend,
		sources:   DefaultSources,
		staleness: staleness,
		now:       time.Now,
	}
}

// SyncConfigs pulls every source concurrently and overwrites its cache key.
// A failing source is logged and does not affect the others. The tenant's
// refresh time is recorded when at least one source succeeded.
func (s *Service) SyncConfigs(ctx context.Context, tenant string) (SyncResult, error) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result SyncResult
	)

	for _, src := range s.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			err := s.pull(ctx, tenant, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, src.Key)
				slog.Warn("config pull failed",
					"component", "config_sync",
					"key", src.Key,
					"collection", src.Collection,
					"tenant_id", tenant,
					"error", err,
				)
				return
			}
			result.Succeeded = append(result.Succeeded, src.Key)
		}(src)
	}
	wg.Wait()

	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)

	if len(result.Succeeded) == 0 {
		return result, nil
	}
	if err := s.meta.SetMeta(ctx, tallysync.LastConfigSyncKey(tenant), schema.FormatTime(s.now())); err != nil {
		return result, fmt.Errorf("record config sync time: %w", err)
	}

	slog.Info("config sync completed",
		"component", "config_sync",
		"action", "sync",
		"tenant_id", tenant,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return result, nil
}

// pull fetches every page of src and writes it to the cache in one Put.
func (s *Service) pull(ctx context.Context, tenant string, src Source) error {
	rows := make([]map[string]any, 0)
	for offset := 0; ; offset += pageSize {
		page, err := s.backend.SelectRange(ctx, src.Collection, remote.RangeQuery{
			TenantID: tenant,
			Order:    schema.ColID,
			Offset:   offset,
			Limit:    pageSize,
		})
		if err != nil {
			return err
		}
		rows = append(rows, page...)
		if len(page) < pageSize {
			break
		}
	}

	var value any = rows
	if src.Single {
		value = nil
		if len(rows) > 0 {
			value = rows[0]
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", src.Key, err)
	}
	return s.cache.Put(tenant, src.Key, data)
}

// GetLocalConfig returns the tenant's cached value of key.
func (s *Service) GetLocalConfig(tenant, key string) (json.RawMessage, bool) {
	entry, err := s.cache.Get(tenant, key)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			slog.Warn("config cache read failed",
				"component", "config_sync",
				"tenant_id", tenant,
				"key", key,
				"error", err,
			)
		}
		return nil, false
	}
	return entry.Value, true
}

// NeedsConfigSync reports whether the tenant was never refreshed or was
// refreshed longer ago than the staleness window.
func (s *Service) NeedsConfigSync(ctx context.Context, tenant string) (bool, error) {
	v, err := s.meta.GetMeta(ctx, tallysync.LastConfigSyncKey(tenant))
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config sync time: %w", err)
	}
	last, err := schema.ParseTime(v)
	if err != nil {
		return true, nil
	}
	return s.now().Sub(last) > s.staleness, nil
}
