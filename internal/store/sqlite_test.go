package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/tally/internal/schema"
	tallysync "github.com/hyperengineering/tally/internal/sync"
	_ "modernc.org/sqlite"
)

// stepClock returns a clock that advances one millisecond per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Millisecond)
		return t
	}
}

// newTestStore creates a fresh SQLiteStore in a temp directory.
func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	opts = append([]Option{WithClock(stepClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)))}, opts...)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), schema.DefaultRegistry(), opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertCategory(t *testing.T, s *SQLiteStore, name string) Row {
	t.Helper()
	row, err := s.Insert(context.Background(), schema.TableCategories, map[string]any{
		"tenant_id": "t1",
		"name":      name,
		"active":    true,
	})
	if err != nil {
		t.Fatalf("insert category: %v", err)
	}
	return row
}

func allEntries(t *testing.T, s *SQLiteStore) []tallysync.ChangeLogEntry {
	t.Helper()
	entries, err := s.Entries(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return entries
}

// --- CRUD ---

func TestInsert_GeneratesIDAndTimestamps(t *testing.T) {
	s := newTestStore(t)

	// When: inserting without id or timestamps
	row := insertCategory(t, s, "Drinks")

	// Then: id and both timestamps are populated
	if id, _ := row["id"].(string); id == "" {
		t.Fatal("expected generated id")
	}
	if row["created_at"] == nil || row["updated_at"] == nil {
		t.Errorf("expected timestamps, got %v / %v", row["created_at"], row["updated_at"])
	}
	if row["active"] != int64(1) {
		t.Errorf("expected active stored as 1, got %#v", row["active"])
	}
	if row["synced_at"] != nil {
		t.Errorf("expected synced_at NULL, got %v", row["synced_at"])
	}
}

func TestInsert_KeepsProvidedID(t *testing.T) {
	s := newTestStore(t)

	row, err := s.Insert(context.Background(), schema.TableCategories, map[string]any{
		"id": "cat-1", "tenant_id": "t1", "name": "Food",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row["id"] != "cat-1" {
		t.Errorf("expected id cat-1, got %v", row["id"])
	}
}

func TestInsert_AppendsInsertEntryWithMaterializedRow(t *testing.T) {
	s := newTestStore(t)

	row := insertCategory(t, s, "Drinks")

	entries := allEntries(t, s)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Operation != tallysync.OperationInsert || e.Status != tallysync.StatusPending {
		t.Errorf("unexpected entry op/status: %s/%s", e.Operation, e.Status)
	}
	if e.TableName != schema.TableCategories || e.RecordID != row["id"] {
		t.Errorf("unexpected entry target: %s/%s", e.TableName, e.RecordID)
	}
	if e.SourceID != s.DeviceID() || e.SourceID == "" {
		t.Errorf("expected source id %q, got %q", s.DeviceID(), e.SourceID)
	}

	var payload map[string]any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	for _, col := range []string{"id", "tenant_id", "name", "active", "created_at", "updated_at"} {
		if _, ok := payload[col]; !ok {
			t.Errorf("payload missing column %s", col)
		}
	}
}

func TestInsert_EncodesJSONColumn(t *testing.T) {
	s := newTestStore(t)

	row, err := s.Insert(context.Background(), schema.TableProducts, map[string]any{
		"tenant_id":  "t1",
		"sku":        "SKU-1",
		"name":       "Shirt",
		"price":      19.9,
		"attributes": map[string]any{"size": "M"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row["attributes"] != `{"size":"M"}` {
		t.Errorf("expected JSON text, got %#v", row["attributes"])
	}
}

func TestInsert_UnknownTable(t *testing.T) {
	s := newTestStore(t)

	// When: inserting into a table the registry does not know
	_, err := s.Insert(context.Background(), "lore_entries", map[string]any{"x": 1})

	// Then: ErrUnknownTable wrapped in *Error, no entry written
	var storeErr *Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
	if n := len(allEntries(t, s)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestInsert_UnknownColumn(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(context.Background(), schema.TableCategories, map[string]any{
		"tenant_id": "t1", "name": "x", "colour": "red",
	})

	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
	if n := len(allEntries(t, s)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestInsert_DuplicateIDIsConstraintWithoutEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fields := map[string]any{"id": "cat-1", "tenant_id": "t1", "name": "Food"}
	if _, err := s.Insert(ctx, schema.TableCategories, fields); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// When: inserting the same id again
	_, err := s.Insert(ctx, schema.TableCategories, fields)

	// Then: constraint error and the change log still has one entry
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	if n := len(allEntries(t, s)); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestInsert_MissingRequiredColumnIsConstraint(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(context.Background(), schema.TableCategories, map[string]any{"name": "no tenant"})

	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestInsert_GeneratedIDsAreUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		row, err := s.Insert(ctx, schema.TableCashMovements, map[string]any{
			"tenant_id": "t1", "cash_session_id": "cs-1", "kind": "supply", "amount": 1,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		id := row["id"].(string)
		if seen[id] {
			t.Fatalf("duplicate generated id %s", id)
		}
		seen[id] = true
	}
}

func TestUpdate_AppendsPartialPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	row := insertCategory(t, s, "Drinks")
	id := row["id"].(string)

	// When: updating a single field
	if err := s.Update(ctx, schema.TableCategories, id, map[string]any{"name": "Beverages"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Then: the row changed and updated_at moved forward
	got, err := s.SelectByID(ctx, schema.TableCategories, id)
	if err != nil {
		t.Fatalf("SelectByID: %v", err)
	}
	if got["name"] != "Beverages" {
		t.Errorf("expected name Beverages, got %v", got["name"])
	}
	if got["updated_at"].(string) <= row["updated_at"].(string) {
		t.Errorf("expected updated_at to advance: %v -> %v", row["updated_at"], got["updated_at"])
	}

	// Then: the UPDATE entry carries only the changed fields plus updated_at
	entries := allEntries(t, s)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	upd := entries[1]
	if upd.Operation != tallysync.OperationUpdate {
		t.Fatalf("expected UPDATE, got %s", upd.Operation)
	}
	var payload map[string]any
	if err := json.Unmarshal(upd.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(payload) != 2 || payload["name"] != "Beverages" || payload["updated_at"] == nil {
		t.Errorf("unexpected update payload: %v", payload)
	}
}

func TestUpdate_MissingRowReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(context.Background(), schema.TableCategories, "nope", map[string]any{"name": "x"})

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(allEntries(t, s)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestDelete_AppendsEntryWithNullPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insertCategory(t, s, "Drinks")["id"].(string)

	if err := s.Delete(ctx, schema.TableCategories, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.SelectByID(ctx, schema.TableCategories, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	entries := allEntries(t, s)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	del := entries[1]
	if del.Operation != tallysync.OperationDelete || del.Payload != nil {
		t.Errorf("expected DELETE with nil payload, got %s %q", del.Operation, del.Payload)
	}
}

func TestDelete_MissingRowReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), schema.TableCategories, "nope")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(allEntries(t, s)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestSelect_WhereOrderLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"b", "c", "a"} {
		insertCategory(t, s, name)
	}
	if _, err := s.Insert(ctx, schema.TableCategories, map[string]any{"tenant_id": "t2", "name": "other"}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Select(ctx, schema.TableCategories, Query{
		Where:   "tenant_id = ?",
		Args:    []any{"t1"},
		OrderBy: "name desc",
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "c" || rows[1]["name"] != "b" {
		t.Errorf("unexpected order: %v, %v", rows[0]["name"], rows[1]["name"])
	}
}

func TestSelect_RejectsUnknownOrderColumn(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Select(context.Background(), schema.TableCategories, Query{OrderBy: "name; DROP TABLE sales"})

	if err == nil {
		t.Fatal("expected error for invalid order")
	}
}

func TestRawAndExecute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertCategory(t, s, "a")
	insertCategory(t, s, "b")

	n, err := s.Execute(ctx, `UPDATE categories SET active = 0`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 affected rows, got %d", n)
	}

	rows, err := s.Raw(ctx, `SELECT COUNT(*) AS n FROM categories WHERE active = ?`, 0)
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if rows[0]["n"] != int64(2) {
		t.Errorf("expected 2, got %#v", rows[0]["n"])
	}

	// Execute bypasses the change log
	if got := len(allEntries(t, s)); got != 2 {
		t.Errorf("expected 2 entries from the inserts only, got %d", got)
	}
}

func TestReplaceRows_WritesWithoutChangeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []Row{
		{"id": "c1", "tenant_id": "t1", "name": "a", "active": int64(1), "created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z", "synced_at": "2026-01-02T00:00:00Z"},
		{"id": "c2", "tenant_id": "t1", "name": "b", "active": int64(0), "created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"},
	}
	n, err := s.ReplaceRows(ctx, schema.TableCategories, rows)
	if err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows written, got %d", n)
	}

	// Replaying the same page overwrites rather than failing
	rows[0]["name"] = "renamed"
	if _, err := s.ReplaceRows(ctx, schema.TableCategories, rows); err != nil {
		t.Fatalf("second ReplaceRows: %v", err)
	}

	got, err := s.SelectByID(ctx, schema.TableCategories, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "renamed" {
		t.Errorf("expected renamed, got %v", got["name"])
	}
	if got["synced_at"] != "2026-01-02T00:00:00.000000000Z" {
		t.Errorf("expected normalized synced_at, got %v", got["synced_at"])
	}
	if n := len(allEntries(t, s)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestReplaceRows_KeepsRowsWithUnpushedChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a category edited offline and one deleted offline
	edited := insertCategory(t, s, "cloud name")
	if err := s.Update(ctx, schema.TableCategories, edited["id"].(string), map[string]any{"name": "local edit"}); err != nil {
		t.Fatal(err)
	}
	deleted := insertCategory(t, s, "gone")
	if err := s.Delete(ctx, schema.TableCategories, deleted["id"].(string)); err != nil {
		t.Fatal(err)
	}

	remoteRow := func(id, name string) Row {
		return Row{"id": id, "tenant_id": "t1", "name": name, "active": int64(1),
			"created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"}
	}
	page := []Row{
		remoteRow(edited["id"].(string), "cloud name"),
		remoteRow(deleted["id"].(string), "gone"),
		remoteRow("c-new", "fresh"),
	}

	// When: a hydration page contains the cloud versions of both
	n, err := s.ReplaceRows(ctx, schema.TableCategories, page)
	if err != nil {
		t.Fatalf("ReplaceRows: %v", err)
	}

	// Then: only the untouched row is written
	if n != 1 {
		t.Errorf("expected 1 row written, got %d", n)
	}
	got, err := s.SelectByID(ctx, schema.TableCategories, edited["id"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "local edit" {
		t.Errorf("local edit reverted to %v", got["name"])
	}
	if _, err := s.SelectByID(ctx, schema.TableCategories, deleted["id"].(string)); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted row resurrected, err = %v", err)
	}
	if _, err := s.SelectByID(ctx, schema.TableCategories, "c-new"); err != nil {
		t.Errorf("new row not written: %v", err)
	}

	// Once the edits are pushed the cloud version is accepted again
	for _, e := range allEntries(t, s) {
		if err := s.MarkEntrySynced(ctx, e.ID, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := s.ReplaceRows(ctx, schema.TableCategories, page[:1]); err != nil || n != 1 {
		t.Fatalf("ReplaceRows after push = %d, %v", n, err)
	}
	got, _ = s.SelectByID(ctx, schema.TableCategories, edited["id"].(string))
	if got["name"] != "cloud name" {
		t.Errorf("expected cloud name after push, got %v", got["name"])
	}
}

// --- Change log ---

func TestPendingEntries_CreationOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		insertCategory(t, s, name)
	}

	entries, err := s.PendingEntries(context.Background(), 2)
	if err != nil {
		t.Fatalf("PendingEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].CreatedAt.Before(entries[1].CreatedAt) {
		t.Errorf("expected creation order, got %v then %v", entries[0].CreatedAt, entries[1].CreatedAt)
	}
}

func TestMarkEntry_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertCategory(t, s, "a")
	insertCategory(t, s, "b")
	entries := allEntries(t, s)

	at := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	if err := s.MarkEntrySynced(ctx, entries[0].ID, at); err != nil {
		t.Fatalf("MarkEntrySynced: %v", err)
	}
	if err := s.MarkEntryFailed(ctx, entries[1].ID, "boom"); err != nil {
		t.Fatalf("MarkEntryFailed: %v", err)
	}

	stats, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if stats.Pending != 0 || stats.Synced != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	failed, err := s.Entries(ctx, tallysync.StatusFailed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Error != "boom" {
		t.Errorf("expected one failed entry with error, got %+v", failed)
	}

	synced, err := s.Entries(ctx, tallysync.StatusSynced, 0)
	if err != nil {
		t.Fatal(err)
	}
	if synced[0].SyncedAt == nil || !synced[0].SyncedAt.Equal(at) {
		t.Errorf("expected synced_at %v, got %v", at, synced[0].SyncedAt)
	}
}

func TestMarkEntrySynced_UnknownEntry(t *testing.T) {
	s := newTestStore(t)

	err := s.MarkEntrySynced(context.Background(), 999, time.Now())

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetFailed_OnlyTouchesFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		insertCategory(t, s, name)
	}
	entries := allEntries(t, s)
	s.MarkEntrySynced(ctx, entries[0].ID, time.Now())
	s.MarkEntryFailed(ctx, entries[1].ID, "timeout")

	n, err := s.ResetFailed(ctx)
	if err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}

	stats, _ := s.CountByStatus(ctx)
	if stats.Pending != 2 || stats.Synced != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats after reset: %+v", stats)
	}
	pending, _ := s.PendingEntries(ctx, 0)
	for _, e := range pending {
		if e.Error != "" {
			t.Errorf("expected cleared error on entry %d, got %q", e.ID, e.Error)
		}
	}
}

func TestPurgeSynced_RetentionWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"old", "recent", "pending", "failed"} {
		insertCategory(t, s, name)
	}
	entries := allEntries(t, s)
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	s.MarkEntrySynced(ctx, entries[0].ID, now.Add(-8*24*time.Hour))
	s.MarkEntrySynced(ctx, entries[1].ID, now.Add(-6*24*time.Hour))
	s.MarkEntryFailed(ctx, entries[3].ID, "x")

	n, err := s.PurgeSynced(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeSynced: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}

	stats, _ := s.CountByStatus(ctx)
	if stats.Synced != 1 || stats.Pending != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats after purge: %+v", stats)
	}
}

func TestMarkRecordSynced_StampsWithoutEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insertCategory(t, s, "a")["id"].(string)

	at := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)
	if err := s.MarkRecordSynced(ctx, schema.TableCategories, id, at); err != nil {
		t.Fatalf("MarkRecordSynced: %v", err)
	}

	row, _ := s.SelectByID(ctx, schema.TableCategories, id)
	if row["synced_at"] != schema.FormatTime(at) {
		t.Errorf("expected synced_at %s, got %v", schema.FormatTime(at), row["synced_at"])
	}
	if n := len(allEntries(t, s)); n != 1 {
		t.Errorf("expected only the insert entry, got %d", n)
	}
}

// --- Metadata ---

func TestMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetMeta(ctx, "hydrated_products_t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := s.SetMeta(ctx, "hydrated_products_t1", "true"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := s.SetMeta(ctx, "hydrated_products_t1", "still-true"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	v, err := s.GetMeta(ctx, "hydrated_products_t1")
	if err != nil || v != "still-true" {
		t.Errorf("GetMeta = %q, %v", v, err)
	}
	if err := s.DeleteMeta(ctx, "hydrated_products_t1"); err != nil {
		t.Fatalf("DeleteMeta: %v", err)
	}
	if _, err := s.GetMeta(ctx, "hydrated_products_t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeviceID_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")

	first, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := first.DeviceID()
	first.Close()

	second, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if id == "" || second.DeviceID() != id {
		t.Errorf("expected device id %q to persist, got %q", id, second.DeviceID())
	}
}

func TestNewSQLiteStore_RejectsUnmigratedTable(t *testing.T) {
	reg := schema.MustRegistry(append(schema.POSTables(), schema.TableSchema{
		Name:    "gift_cards",
		Columns: []schema.Column{{Name: "id", Type: schema.Text}},
	})...)

	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), reg)

	if !errors.Is(err, schema.ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

// --- Snapshot ---

func TestGenerateSnapshot_CopiesData(t *testing.T) {
	s := newTestStore(t)
	insertCategory(t, s, "a")
	path := filepath.Join(t.TempDir(), "backups", "local.db")

	if err := s.GenerateSnapshot(context.Background(), path); err != nil {
		t.Fatalf("GenerateSnapshot: %v", err)
	}
	// A second snapshot replaces the first
	insertCategory(t, s, "b")
	if err := s.GenerateSnapshot(context.Background(), path); err != nil {
		t.Fatalf("second GenerateSnapshot: %v", err)
	}

	snap, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	var count int
	if err := snap.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 categories in snapshot, got %d", count)
	}
}
