// Package remote defines the contract of the cloud backend the sync engine
// replays the change log against, and an HTTP client implementing it.
package remote

import "context"

// MaxPageSize is the largest page a backend returns from SelectRange.
// Larger limits are clamped, so callers must not page above it.
const MaxPageSize = 5000

// RangeQuery selects one page of a tenant's rows.
type RangeQuery struct {
	TenantID string
	Order    string
	Offset   int
	Limit    int
}

// SalesTotal aggregates completed sales for one payment method.
type SalesTotal struct {
	PaymentMethod string  `json:"payment_method"`
	Count         int64   `json:"count"`
	Total         float64 `json:"total"`
	Discount      float64 `json:"discount"`
}

// FinancialTotal aggregates cash movements of one kind.
type FinancialTotal struct {
	Kind   string  `json:"kind"`
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// DailySummary is the end-of-day report submitted once per calendar day.
type DailySummary struct {
	TenantID        string           `json:"tenant_id"`
	Date            string           `json:"date"`
	SalesTotals     []SalesTotal     `json:"sales_totals"`
	FinancialTotals []FinancialTotal `json:"financial_totals"`
}

// Backend is the remote relational store. Implementations return errors
// that unwrap to ErrDuplicate, ErrNotFound or ErrUnauthorized where those
// apply, and report transient failures through IsTransient.
type Backend interface {
	// Upsert inserts row into collection, replacing an existing row with
	// the same id. Immutable collections reject an existing id with
	// ErrDuplicate instead.
	Upsert(ctx context.Context, collection string, row map[string]any) error
	UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error
	DeleteByID(ctx context.Context, collection, id string) error
	SelectRange(ctx context.Context, collection string, q RangeQuery) ([]map[string]any, error)
	SubmitDailySummary(ctx context.Context, s DailySummary) error
	Ping(ctx context.Context) error
}
