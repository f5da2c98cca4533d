package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/tally/internal/schema"
	tallysync "github.com/hyperengineering/tally/internal/sync"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the on-device record store backed by SQLite.
type SQLiteStore struct {
	db       *sql.DB
	registry *schema.Registry
	deviceID string
	now      func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used for record and change log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithDeviceID sets the source id stamped on change log entries instead of
// the one persisted in sync_meta.
func WithDeviceID(id string) Option {
	return func(s *SQLiteStore) { s.deviceID = id }
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, runs
// migrations and checks every registered table against the resulting schema.
func NewSQLiteStore(dbPath string, registry *schema.Registry, opts ...Option) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection and change log appends must not interleave
	// with another writer's transaction.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if registry == nil {
		registry = schema.DefaultRegistry()
	}
	if err := registry.Validate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	s := &SQLiteStore{db: db, registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if s.deviceID == "" {
		id, err := s.ensureDeviceID(context.Background())
		if err != nil {
			db.Close()
			return nil, err
		}
		s.deviceID = id
	}

	return s, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// ensureDeviceID returns the persisted device id, generating one on first
// start.
func (s *SQLiteStore) ensureDeviceID(ctx context.Context) (string, error) {
	id, err := s.GetMeta(ctx, tallysync.MetaDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("load device id: %w", err)
	}

	id = ulid.Make().String()
	if err := s.SetMeta(ctx, tallysync.MetaDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Registry returns the table registry the store validates against.
func (s *SQLiteStore) Registry() *schema.Registry {
	return s.registry
}

// DeviceID returns the source id stamped on change log entries.
func (s *SQLiteStore) DeviceID() string {
	return s.deviceID
}

func (s *SQLiteStore) timestamp() string {
	return schema.FormatTime(s.now())
}
