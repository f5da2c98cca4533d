package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/tally/internal/cloud"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

const problemTypeBase = "https://tally.dev/errors/"

// Problem kinds. Each becomes the last segment of the problem type URI.
const (
	ProblemInvalidToken     = "invalid-token"
	ProblemInvalidRequest   = "invalid-request"
	ProblemTenantMismatch   = "tenant-mismatch"
	ProblemRecordNotFound   = "record-not-found"
	ProblemDuplicateRecord  = "duplicate-record"
	ProblemImmutableRecord  = "immutable-record"
	ProblemStoreUnavailable = "store-unavailable"
	ProblemInternal         = "internal-error"
)

var problemTypes = map[string]struct {
	status int
	title  string
}{
	ProblemInvalidToken:     {http.StatusUnauthorized, "Invalid Device Token"},
	ProblemInvalidRequest:   {http.StatusBadRequest, "Invalid Request"},
	ProblemTenantMismatch:   {http.StatusForbidden, "Tenant Mismatch"},
	ProblemRecordNotFound:   {http.StatusNotFound, "Record Not Found"},
	ProblemDuplicateRecord:  {http.StatusConflict, "Duplicate Record"},
	ProblemImmutableRecord:  {http.StatusConflict, "Immutable Record"},
	ProblemStoreUnavailable: {http.StatusServiceUnavailable, "Store Unavailable"},
	ProblemInternal:         {http.StatusInternalServerError, "Internal Server Error"},
}

// WriteProblem writes an RFC 7807 Problem Details response of the given
// kind. An unregistered kind is written as an internal error.
func WriteProblem(w http.ResponseWriter, r *http.Request, kind, detail string) {
	pt, ok := problemTypes[kind]
	if !ok {
		slog.Error("unregistered problem kind", "component", "api", "kind", kind)
		kind = ProblemInternal
		pt = problemTypes[kind]
	}

	p := Problem{
		Type:     problemTypeBase + kind,
		Title:    pt.title,
		Status:   pt.status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pt.status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapStoreError converts cloud store errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cloud.ErrNotFound):
		WriteProblem(w, r, ProblemRecordNotFound, err.Error())
	case errors.Is(err, cloud.ErrImmutable):
		WriteProblem(w, r, ProblemImmutableRecord, err.Error())
	case errors.Is(err, cloud.ErrConflict):
		WriteProblem(w, r, ProblemDuplicateRecord, err.Error())
	case errors.Is(err, cloud.ErrForbidden):
		WriteProblem(w, r, ProblemTenantMismatch, "Record belongs to another tenant")
	case errors.Is(err, cloud.ErrInvalid):
		WriteProblem(w, r, ProblemInvalidRequest, err.Error())
	default:
		slog.Error("request failed",
			"component", "api",
			"path", r.URL.Path,
			"method", r.Method,
			"error", err,
		)
		WriteProblem(w, r, ProblemInternal, "Internal Server Error")
	}
}
