package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/tally/internal/remote"
	"github.com/hyperengineering/tally/internal/schema"
	"github.com/hyperengineering/tally/internal/store"
	tallysync "github.com/hyperengineering/tally/internal/sync"
)

const salesTotalsSQL = `
	SELECT payment_method, COUNT(*) AS count,
	       COALESCE(SUM(total), 0) AS total, COALESCE(SUM(discount), 0) AS discount
	FROM sales
	WHERE tenant_id = ? AND status = 'completed' AND created_at >= ? AND created_at < ?
	GROUP BY payment_method
	ORDER BY payment_method`

const financialTotalsSQL = `
	SELECT kind, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount
	FROM cash_movements
	WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
	GROUP BY kind
	ORDER BY kind`

// SummaryDone reports whether the daily summary of day was already
// submitted.
func (e *Engine) SummaryDone(ctx context.Context, day time.Time) (bool, error) {
	_, err := e.store.GetMeta(ctx, tallysync.DailySummaryKey(day))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read summary marker: %w", err)
	}
}

// PushDailySummary aggregates the tenant's sales and cash movements of the
// calendar day containing day, in day's location, and submits them once.
// Returns false without contacting the remote when the day was already
// submitted. The marker is set only after a successful submission.
func (e *Engine) PushDailySummary(ctx context.Context, tenant string, day time.Time) (bool, error) {
	done, err := e.SummaryDone(ctx, day)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	from, to := schema.FormatTime(start), schema.FormatTime(end)

	summary := remote.DailySummary{
		TenantID:        tenant,
		Date:            start.Format(time.DateOnly),
		SalesTotals:     []remote.SalesTotal{},
		FinancialTotals: []remote.FinancialTotal{},
	}

	sales, err := e.store.Raw(ctx, salesTotalsSQL, tenant, from, to)
	if err != nil {
		return false, fmt.Errorf("aggregate sales: %w", err)
	}
	for _, r := range sales {
		summary.SalesTotals = append(summary.SalesTotals, remote.SalesTotal{
			PaymentMethod: asString(r["payment_method"]),
			Count:         asInt(r["count"]),
			Total:         asFloat(r["total"]),
			Discount:      asFloat(r["discount"]),
		})
	}

	movements, err := e.store.Raw(ctx, financialTotalsSQL, tenant, from, to)
	if err != nil {
		return false, fmt.Errorf("aggregate cash movements: %w", err)
	}
	for _, r := range movements {
		summary.FinancialTotals = append(summary.FinancialTotals, remote.FinancialTotal{
			Kind:   asString(r["kind"]),
			Count:  asInt(r["count"]),
			Amount: asFloat(r["amount"]),
		})
	}

	if err := e.backend.SubmitDailySummary(ctx, summary); err != nil {
		return false, fmt.Errorf("submit daily summary: %w", err)
	}

	if err := e.store.SetMeta(ctx, tallysync.DailySummaryKey(day), schema.FormatTime(e.now())); err != nil {
		return true, fmt.Errorf("set summary marker: %w", err)
	}

	slog.Info("daily summary submitted",
		"component", "sync_engine",
		"action", "daily_summary",
		"tenant_id", tenant,
		"date", summary.Date,
		"payment_methods", len(summary.SalesTotals),
		"movement_kinds", len(summary.FinancialTotals),
	)
	return true, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}
