package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/tally/internal/cloud"
	"github.com/hyperengineering/tally/internal/engine"
	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
)

type testServer struct {
	store *cloud.Store
	url   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := cloud.Open(filepath.Join(t.TempDir(), "cloud.db"))
	if err != nil {
		t.Fatalf("open cloud store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(NewRouter(NewHandler(s, testSecret, "test")))
	t.Cleanup(srv.Close)
	return &testServer{store: s, url: srv.URL}
}

func (ts *testServer) client(t *testing.T, tenant string) *remote.Client {
	t.Helper()
	return remote.NewClient(ts.url, issueTestToken(t, tenant), remote.WithTimeout(5*time.Second))
}

func TestHealth_IsPublic(t *testing.T) {
	ts := newTestServer(t)

	if err := remote.NewClient(ts.url, "").Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	resp, err := http.Get(ts.url + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "healthy" || body.Version != "test" {
		t.Errorf("health = %+v", body)
	}
}

func TestCollections_RequireToken(t *testing.T) {
	ts := newTestServer(t)

	err := remote.NewClient(ts.url, "").Upsert(context.Background(), "products", map[string]any{"id": "p1"})
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestUpsert_ThenSelect(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()

	// Given: a product upserted twice
	if err := c.Upsert(ctx, "products", map[string]any{"id": "p1", "tenant_id": "t1", "name": "Coffee", "price": 2.5}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := c.Upsert(ctx, "products", map[string]any{"id": "p1", "tenant_id": "t1", "name": "Tea", "price": 3}); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	// When: the tenant selects the collection
	rows, err := c.SelectRange(ctx, "products", remote.RangeQuery{TenantID: "t1", Order: "id", Limit: 10})
	if err != nil {
		t.Fatalf("SelectRange() error = %v", err)
	}

	// Then: the later upsert replaced the row and numbers stay exact
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["name"] != "Tea" {
		t.Errorf("name = %v, want Tea", rows[0]["name"])
	}
	if rows[0]["price"] != json.Number("3") {
		t.Errorf("price = %#v, want json.Number(3)", rows[0]["price"])
	}
}

func TestUpsert_StampsCallerTenant(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()

	if err := c.Upsert(ctx, "categories", map[string]any{"id": "c1", "name": "Drinks"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	row, err := ts.store.Get(ctx, "t1", "categories", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if row["tenant_id"] != "t1" {
		t.Errorf("tenant_id = %v, want t1", row["tenant_id"])
	}
}

func TestUpsert_ImmutableCollectionReportsDuplicate(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()
	sale := map[string]any{"id": "s1", "tenant_id": "t1", "total": 10}

	if err := c.Upsert(ctx, "sales", sale); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	err := c.Upsert(ctx, "sales", sale)
	if !errors.Is(err, remote.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	var re *remote.Error
	if !errors.As(err, &re) || re.Title != "Immutable Record" {
		t.Errorf("err = %v, want an Immutable Record problem", err)
	}
}

func TestInsert_WithoutPreferRejectsDuplicate(t *testing.T) {
	ts := newTestServer(t)
	token := issueTestToken(t, "t1")

	post := func() int {
		req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/v1/collections/products",
			strings.NewReader(`{"id":"p1","tenant_id":"t1"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post(); got != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", got, http.StatusCreated)
	}
	if got := post(); got != http.StatusConflict {
		t.Errorf("second status = %d, want %d", got, http.StatusConflict)
	}
}

func TestInsert_BadBodies(t *testing.T) {
	ts := newTestServer(t)
	token := issueTestToken(t, "t1")

	for _, body := range []string{`{bad`, `null`, `[1,2]`, `{"tenant_id":"t1"}`} {
		t.Run(body, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/v1/collections/products", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestCrossTenantAccess_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	owner := ts.client(t, "t1")
	intruder := ts.client(t, "t2")

	if err := owner.Upsert(ctx, "products", map[string]any{"id": "p1", "tenant_id": "t1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"insert for other tenant", func() error {
			return intruder.Upsert(ctx, "products", map[string]any{"id": "p2", "tenant_id": "t1"})
		}},
		{"overwrite other tenant's id", func() error {
			return intruder.Upsert(ctx, "products", map[string]any{"id": "p1", "tenant_id": "t2"})
		}},
		{"select other tenant", func() error {
			_, err := intruder.SelectRange(ctx, "products", remote.RangeQuery{TenantID: "t1"})
			return err
		}},
		{"patch other tenant's row", func() error {
			return intruder.UpdateByID(ctx, "products", "p1", map[string]any{"name": "x"})
		}},
		{"delete other tenant's row", func() error {
			return intruder.DeleteByID(ctx, "products", "p1")
		}},
		{"summary for other tenant", func() error {
			return intruder.SubmitDailySummary(ctx, remote.DailySummary{TenantID: "t1", Date: "2026-05-01"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var re *remote.Error
			if !errors.As(err, &re) || re.Status != http.StatusForbidden {
				t.Errorf("err = %v, want 403", err)
			}
		})
	}

	rows, err := intruder.SelectRange(ctx, "products", remote.RangeQuery{TenantID: "t2"})
	if err != nil {
		t.Fatalf("SelectRange() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("intruder sees %d rows, want 0", len(rows))
	}
}

func TestSelect_Pagination(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := c.Upsert(ctx, "customers", map[string]any{"id": id, "tenant_id": "t1"}); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	var got []string
	for offset := 0; ; offset += 2 {
		rows, err := c.SelectRange(ctx, "customers", remote.RangeQuery{TenantID: "t1", Order: "id", Offset: offset, Limit: 2})
		if err != nil {
			t.Fatalf("SelectRange() error = %v", err)
		}
		for _, r := range rows {
			got = append(got, r["id"].(string))
		}
		if len(rows) < 2 {
			break
		}
	}

	if strings.Join(got, ",") != "a,b,c,d,e" {
		t.Errorf("ids = %v", got)
	}
}

func TestSelect_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	token := issueTestToken(t, "t1")

	for _, q := range []string{"offset=-1", "limit=abc", "order=name"} {
		t.Run(q, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.url+"/api/v1/collections/products?"+q, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestPatchAndDelete(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()

	if err := c.UpdateByID(ctx, "products", "missing", map[string]any{"name": "x"}); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("patch missing err = %v, want ErrNotFound", err)
	}
	if err := c.DeleteByID(ctx, "products", "missing"); err != nil {
		t.Errorf("delete missing err = %v, want nil", err)
	}

	if err := c.Upsert(ctx, "products", map[string]any{"id": "p1", "tenant_id": "t1", "name": "Coffee", "sku": "S1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := c.UpdateByID(ctx, "products", "p1", map[string]any{"name": "Espresso", "sku": nil}); err != nil {
		t.Fatalf("UpdateByID() error = %v", err)
	}
	row, err := ts.store.Get(ctx, "t1", "products", "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if row["name"] != "Espresso" {
		t.Errorf("name = %v, want Espresso", row["name"])
	}
	if _, ok := row["sku"]; ok {
		t.Error("sku should be removed by a null patch")
	}

	if err := c.DeleteByID(ctx, "products", "p1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if _, err := ts.store.Get(ctx, "t1", "products", "p1"); !errors.Is(err, cloud.ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestSubmitDailySummary(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "t1")
	ctx := context.Background()

	s := remote.DailySummary{
		TenantID:        "t1",
		Date:            "2026-05-01",
		SalesTotals:     []remote.SalesTotal{{PaymentMethod: "cash", Count: 2, Total: 30}},
		FinancialTotals: []remote.FinancialTotal{{Kind: "withdrawal", Count: 1, Amount: 5}},
	}
	if err := c.SubmitDailySummary(ctx, s); err != nil {
		t.Fatalf("SubmitDailySummary() error = %v", err)
	}

	got, err := ts.store.Summary(ctx, "t1", "2026-05-01")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(got.SalesTotals) != 1 || got.SalesTotals[0].Total != 30 {
		t.Errorf("summary = %+v", got)
	}

	bad := remote.DailySummary{TenantID: "t1", Date: "yesterday"}
	var re *remote.Error
	if err := c.SubmitDailySummary(ctx, bad); !errors.As(err, &re) || re.Status != http.StatusBadRequest {
		t.Errorf("bad date err = %v, want 400", err)
	}
}

func TestPreferMerge(t *testing.T) {
	tests := []struct {
		values []string
		want   bool
	}{
		{nil, false},
		{[]string{"return=minimal"}, false},
		{[]string{remote.PreferMergeDuplicates}, true},
		{[]string{"return=minimal, " + remote.PreferMergeDuplicates}, true},
		{[]string{"return=minimal", remote.PreferMergeDuplicates}, true},
	}
	for _, tt := range tests {
		h := http.Header{"Prefer": tt.values}
		if got := preferMerge(h); got != tt.want {
			t.Errorf("preferMerge(%v) = %v, want %v", tt.values, got, tt.want)
		}
	}
}

func TestEngineRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// Given: a device store with local changes
	local, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), schema.DefaultRegistry())
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	if _, err := local.Insert(ctx, schema.TableProducts, map[string]any{
		"id": "p1", "tenant_id": "t1", "sku": "SKU-1", "name": "Coffee", "price": 2.5, "active": true,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if err := local.Update(ctx, schema.TableProducts, "p1", map[string]any{"price": 3.0}); err != nil {
		t.Fatalf("update product: %v", err)
	}
	if _, err := local.Insert(ctx, schema.TableCategories, map[string]any{
		"id": "c1", "tenant_id": "t1", "name": "Drinks",
	}); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	if err := local.Delete(ctx, schema.TableCategories, "c1"); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	if _, err := local.Insert(ctx, schema.TableSales, map[string]any{
		"id": "s1", "tenant_id": "t1", "status": "completed", "payment_method": "cash", "total": 3.0,
	}); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	// When: the engine pushes against the cloud API
	e := engine.New(local, ts.client(t, "t1"), engine.Config{})
	result, err := e.PushPending(ctx)
	if err != nil {
		t.Fatalf("PushPending() error = %v", err)
	}

	// Then: every entry is applied and the cloud mirrors the device
	if result.Synced != 5 || result.Failed != 0 {
		t.Errorf("result = %+v, want 5 synced", result)
	}
	product, err := ts.store.Get(ctx, "t1", "products", "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product["price"] != json.Number("3") {
		t.Errorf("price = %#v, want 3", product["price"])
	}
	if _, err := ts.store.Get(ctx, "t1", "categories", "c1"); !errors.Is(err, cloud.ErrNotFound) {
		t.Errorf("category err = %v, want ErrNotFound", err)
	}
	if _, err := ts.store.Get(ctx, "t1", "sales", "s1"); err != nil {
		t.Errorf("get sale: %v", err)
	}

	stats, err := e.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Pending != 0 || stats.Synced != 5 {
		t.Errorf("stats = %+v", stats)
	}
}
