// Package cloud implements the tenant-scoped record store behind the cloud
// HTTP API, and the bearer tokens devices authenticate with.
package cloud

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/tally/internal/cloud/migrations"
	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	DefaultLimit = 500
	MaxLimit     = remote.MaxPageSize
)

// Store keeps every collection's rows as JSON documents in one table.
type Store struct {
	db        *sql.DB
	immutable map[string]bool
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for server side timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithImmutable replaces the set of collections that reject a second
// insert of the same id.
func WithImmutable(collections ...string) Option {
	return func(s *Store) {
		s.immutable = make(map[string]bool, len(collections))
		for _, c := range collections {
			s.immutable[c] = true
		}
	}
}

// Open opens or creates the cloud database at path and applies migrations.
// Collections marked immutable in the default registry reject duplicates.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, now: time.Now, immutable: map[string]bool{}}
	for _, t := range schema.DefaultRegistry().Tables() {
		if t.Immutable {
			s.immutable[t.Collection] = true
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsImmutable reports whether collection rejects duplicate ids.
func (s *Store) IsImmutable(collection string) bool {
	return s.immutable[collection]
}

func stringField(row map[string]any, key string) string {
	v, _ := row[key].(string)
	return v
}

// Insert stores row in collection. An existing id owned by another tenant
// fails with ErrForbidden. Otherwise an existing id is replaced when merge
// is set, and fails with ErrConflict when it is not or when the collection
// is immutable. A non-empty tenant must match the row's tenant_id.
func (s *Store) Insert(ctx context.Context, tenant, collection string, row map[string]any, merge bool) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	id := stringField(row, schema.ColID)
	if err := ValidateID(id); err != nil {
		return err
	}
	owner := stringField(row, schema.ColTenantID)
	if tenant != "" && owner != tenant {
		return fmt.Errorf("%w: tenant_id %q", ErrForbidden, owner)
	}

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: encode row: %v", ErrInvalid, err)
	}
	now := schema.FormatTime(s.now())
	createdAt := stringField(row, schema.ColCreatedAt)
	if createdAt == "" {
		createdAt = now
	}
	updatedAt := stringField(row, schema.ColUpdatedAt)
	if updatedAt == "" {
		updatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT tenant_id FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (collection, id, tenant_id, body, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			collection, id, owner, string(body), createdAt, updatedAt,
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load record: %w", err)
	case existing != owner:
		return fmt.Errorf("%w: %s/%s", ErrForbidden, collection, id)
	case s.immutable[collection]:
		return fmt.Errorf("%w: %s/%s", ErrImmutable, collection, id)
	case !merge:
		return fmt.Errorf("%w: %s/%s", ErrConflict, collection, id)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(body), updatedAt, collection, id,
		); err != nil {
			return fmt.Errorf("replace record: %w", err)
		}
	}

	return tx.Commit()
}

// Patch merges fields into an existing row following RFC 7396: a null
// value removes the key. The id cannot be changed, and tenant_id only to
// the caller's own tenant.
func (s *Store) Patch(ctx context.Context, tenant, collection, id string, fields map[string]any) error {
	fields = maps.Clone(fields)
	if fields == nil {
		fields = map[string]any{}
	}
	delete(fields, schema.ColID)
	if v, ok := fields[schema.ColTenantID]; ok && tenant != "" && v != tenant {
		return fmt.Errorf("%w: tenant_id %v", ErrForbidden, v)
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: encode patch: %v", ErrInvalid, err)
	}
	updatedAt := stringField(fields, schema.ColUpdatedAt)
	if updatedAt == "" {
		updatedAt = schema.FormatTime(s.now())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkOwner(ctx, tx, tenant, collection, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records
		 SET body = json_patch(body, ?),
		     tenant_id = COALESCE(json_extract(json_patch(body, ?), '$.tenant_id'), ''),
		     updated_at = ?
		 WHERE collection = ? AND id = ?`,
		string(patch), string(patch), updatedAt, collection, id,
	); err != nil {
		return fmt.Errorf("patch record: %w", err)
	}

	return tx.Commit()
}

// Delete removes a row. Deleting a missing row succeeds.
func (s *Store) Delete(ctx context.Context, tenant, collection, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkOwner(ctx, tx, tenant, collection, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id,
	); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	return tx.Commit()
}

func checkOwner(ctx context.Context, tx *sql.Tx, tenant, collection, id string) error {
	var owner string
	err := tx.QueryRowContext(ctx,
		`SELECT tenant_id FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if tenant != "" && owner != tenant {
		return fmt.Errorf("%w: %s/%s", ErrForbidden, collection, id)
	}
	return nil
}

// Get returns one row. Numbers are decoded as json.Number.
func (s *Store) Get(ctx context.Context, tenant, collection, id string) (map[string]any, error) {
	var owner, body string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, body FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&owner, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if tenant != "" && owner != tenant {
		return nil, fmt.Errorf("%w: %s/%s", ErrForbidden, collection, id)
	}
	return decodeBody(body)
}

// orderClause maps "column" or "column.asc|desc" to an ORDER BY clause.
func orderClause(order string) (string, error) {
	if order == "" {
		order = schema.ColID
	}
	column, dir, _ := strings.Cut(order, ".")
	switch column {
	case schema.ColID, schema.ColCreatedAt, schema.ColUpdatedAt:
	default:
		return "", fmt.Errorf("%w: unsupported order column %q", ErrInvalid, column)
	}
	switch dir {
	case "", "asc":
		dir = "ASC"
	case "desc":
		dir = "DESC"
	default:
		return "", fmt.Errorf("%w: unsupported order direction %q", ErrInvalid, dir)
	}
	if column == schema.ColID {
		return "id " + dir, nil
	}
	return column + " " + dir + ", id " + dir, nil
}

// Select returns one page of a collection. An empty tenant selects every
// tenant's rows. A zero limit uses DefaultLimit.
func (s *Store) Select(ctx context.Context, collection string, q remote.RangeQuery) ([]map[string]any, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	order, err := orderClause(q.Order)
	if err != nil {
		return nil, err
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative offset or limit", ErrInvalid)
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM records
		 WHERE collection = ? AND (? = '' OR tenant_id = ?)
		 ORDER BY `+order+`
		 LIMIT ? OFFSET ?`,
		collection, q.TenantID, q.TenantID, limit, q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		row, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SubmitSummary stores a daily summary, replacing an earlier submission
// for the same tenant and date.
func (s *Store) SubmitSummary(ctx context.Context, summary remote.DailySummary) error {
	if summary.TenantID == "" || summary.Date == "" {
		return fmt.Errorf("%w: tenant_id and date are required", ErrInvalid)
	}
	if _, err := time.Parse(time.DateOnly, summary.Date); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalid, summary.Date)
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO daily_summaries (tenant_id, date, payload, submitted_at)
		 VALUES (?, ?, ?, ?)`,
		summary.TenantID, summary.Date, string(payload), schema.FormatTime(s.now()),
	); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// Summary returns the stored summary for tenant and date.
func (s *Store) Summary(ctx context.Context, tenant, date string) (remote.DailySummary, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM daily_summaries WHERE tenant_id = ? AND date = ?`,
		tenant, date,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.DailySummary{}, fmt.Errorf("%w: summary %s/%s", ErrNotFound, tenant, date)
	}
	if err != nil {
		return remote.DailySummary{}, fmt.Errorf("load summary: %w", err)
	}
	var out remote.DailySummary
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return remote.DailySummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return out, nil
}

func decodeBody(body string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return row, nil
}
