package store

import (
	"context"
	"time"

	"github.com/hyperengineering/tally/internal/schema"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

// Row is a single record keyed by column name, holding local encodings.
type Row map[string]any

// Query narrows a Select. Where is a SQL boolean expression with ?
// placeholders bound from Args. OrderBy is a comma separated list of column
// names, each optionally followed by ASC or DESC.
type Query struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

// LocalStore defines the contract for the on-device record store and its
// change log.
type LocalStore interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	SelectByID(ctx context.Context, table, id string) (Row, error)
	Insert(ctx context.Context, table string, fields map[string]any) (Row, error)
	Update(ctx context.Context, table, id string, fields map[string]any) error
	Delete(ctx context.Context, table, id string) error
	Raw(ctx context.Context, query string, args ...any) ([]Row, error)
	Execute(ctx context.Context, statement string, args ...any) (int64, error)
	ReplaceRows(ctx context.Context, table string, rows []Row) (int, error)

	PendingEntries(ctx context.Context, limit int) ([]tallysync.ChangeLogEntry, error)
	Entries(ctx context.Context, status string, limit int) ([]tallysync.ChangeLogEntry, error)
	MarkEntrySynced(ctx context.Context, id int64, at time.Time) error
	MarkEntryFailed(ctx context.Context, id int64, msg string) error
	ResetFailed(ctx context.Context) (int64, error)
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (tallysync.SyncStats, error)
	MarkRecordSynced(ctx context.Context, table, id string, at time.Time) error

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error

	Registry() *schema.Registry
	DeviceID() string
	GenerateSnapshot(ctx context.Context, path string) error
	Close() error
}

var _ LocalStore = (*SQLiteStore)(nil)
