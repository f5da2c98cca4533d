package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/tally/internal/remote"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Store is the record store the handlers serve. An empty tenant argument is
// never passed; every call is scoped to the authenticated tenant.
type Store interface {
	Insert(ctx context.Context, tenant, collection string, row map[string]any, merge bool) error
	Patch(ctx context.Context, tenant, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, tenant, collection, id string) error
	Select(ctx context.Context, collection string, q remote.RangeQuery) ([]map[string]any, error)
	SubmitSummary(ctx context.Context, s remote.DailySummary) error
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Handler implements the API handlers
type Handler struct {
	store   Store
	secret  []byte
	version string
}

// NewHandler creates a new Handler verifying tokens with secret.
func NewHandler(s Store, secret []byte, version string) *Handler {
	return &Handler{
		store:   s,
		secret:  secret,
		version: version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		WriteProblem(w, r, ProblemStoreUnavailable, "Database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

// Insert handles POST /api/v1/collections/{collection}
func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	tenant := TenantFromContext(r.Context())

	row, ok := decodeObject(w, r)
	if !ok {
		return
	}
	// Rows may omit the tenant; they are stamped with the caller's.
	if _, set := row["tenant_id"]; !set {
		row["tenant_id"] = tenant
	}

	merge := preferMerge(r.Header)
	if err := h.store.Insert(r.Context(), tenant, collection, row, merge); err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Debug("record stored",
		"component", "api",
		"collection", collection,
		"tenant_id", tenant,
		"merge", merge,
	)
	w.WriteHeader(http.StatusCreated)
}

// Select handles GET /api/v1/collections/{collection}
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	tenant := TenantFromContext(r.Context())
	query := r.URL.Query()

	if t := query.Get("tenant_id"); t != "" && t != tenant {
		WriteProblem(w, r, ProblemTenantMismatch, "Resource belongs to another tenant")
		return
	}

	offset, err := intParam(query.Get("offset"))
	if err != nil {
		WriteProblem(w, r, ProblemInvalidRequest, fmt.Sprintf("Invalid offset: %s", err.Error()))
		return
	}
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		WriteProblem(w, r, ProblemInvalidRequest, fmt.Sprintf("Invalid limit: %s", err.Error()))
		return
	}

	rows, err := h.store.Select(r.Context(), collection, remote.RangeQuery{
		TenantID: tenant,
		Order:    query.Get("order"),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

// Patch handles PATCH /api/v1/collections/{collection}/{id}
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeObject(w, r)
	if !ok {
		return
	}

	err := h.store.Patch(r.Context(), TenantFromContext(r.Context()),
		chi.URLParam(r, "collection"), chi.URLParam(r, "id"), fields)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/collections/{collection}/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), TenantFromContext(r.Context()),
		chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDailySummary handles POST /api/v1/rpc/submit_daily_summary
func (h *Handler) SubmitDailySummary(w http.ResponseWriter, r *http.Request) {
	var s remote.DailySummary
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&s); err != nil {
		WriteProblem(w, r, ProblemInvalidRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	tenant := TenantFromContext(r.Context())
	if s.TenantID == "" {
		s.TenantID = tenant
	}
	if s.TenantID != tenant {
		WriteProblem(w, r, ProblemTenantMismatch, "Summary belongs to another tenant")
		return
	}

	if err := h.store.SubmitSummary(r.Context(), s); err != nil {
		MapStoreError(w, r, err)
		return
	}

	slog.Info("daily summary received",
		"component", "api",
		"tenant_id", s.TenantID,
		"date", s.Date,
	)
	w.WriteHeader(http.StatusNoContent)
}

// preferMerge reports whether the Prefer header asks for duplicate merging.
func preferMerge(h http.Header) bool {
	for _, v := range h.Values("Prefer") {
		for _, pref := range strings.Split(v, ",") {
			if strings.TrimSpace(pref) == remote.PreferMergeDuplicates {
				return true
			}
		}
	}
	return false
}

// decodeObject reads a JSON object body, keeping numbers as json.Number.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		WriteProblem(w, r, ProblemInvalidRequest, "Request body too large")
		return nil, false
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		WriteProblem(w, r, ProblemInvalidRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return nil, false
	}
	if obj == nil {
		WriteProblem(w, r, ProblemInvalidRequest, "Body must be a JSON object")
		return nil, false
	}
	return obj, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
