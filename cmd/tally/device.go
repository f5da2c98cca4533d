package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hyperengineering/tally/internal/config"
	"github.com/hyperengineering/tally/internal/configsync"
	"github.com/hyperengineering/tally/internal/engine"
	"github.com/hyperengineering/tally/internal/hydrate"
	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
)

// device bundles the on-device components built from configuration.
type device struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	client  *remote.Client
	engine  *engine.Engine
	hydrate *hydrate.Service
}

// openDevice opens the local store and builds the sync components around
// it. The caller must Close the device.
func openDevice(cfg *config.Config) (*device, error) {
	st, err := store.NewSQLiteStore(cfg.Store.Path, schema.DefaultRegistry())
	if err != nil {
		return nil, err
	}
	slog.Info("store initialized", "path", cfg.Store.Path, "device_id", st.DeviceID())

	client := remote.NewClient(cfg.Remote.URL, cfg.Remote.Token,
		remote.WithTimeout(time.Duration(cfg.Remote.Timeout)))

	return &device{
		cfg:    cfg,
		store:  st,
		client: client,
		engine: engine.New(st, client, engine.Config{
			BatchSize: cfg.Sync.BatchSize,
			Retention: time.Duration(cfg.Sync.Retention),
		}),
		hydrate: hydrate.New(st, client, cfg.Hydration.BatchSize),
	}, nil
}

// openConfigSync opens the configuration cache. The caller must close the
// returned cache.
func (d *device) openConfigSync() (*configsync.Service, *configsync.Cache, error) {
	cache, err := configsync.OpenCache(d.cfg.ConfigSync.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open config cache: %w", err)
	}
	svc := configsync.New(cache, d.store, d.client, time.Duration(d.cfg.ConfigSync.Staleness))
	return svc, cache, nil
}

// backupDir is where local snapshots are written before upload.
func (d *device) backupDir() string {
	return filepath.Join(filepath.Dir(d.cfg.Store.Path), "backup")
}

func (d *device) Close() error {
	return d.store.Close()
}
