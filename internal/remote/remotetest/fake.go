// Package remotetest provides an in-memory remote.Backend for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperengineering/tally/internal/remote"
)

// Backend is an in-memory remote.Backend. Collections listed as immutable
// reject an existing id with remote.ErrDuplicate. Errors can be injected
// per method.
type Backend struct {
	mu         sync.Mutex
	rows       map[string]map[string]map[string]any
	immutable  map[string]bool
	summaries  []remote.DailySummary
	errs       map[string][]error
	calls      map[string]int
	selectHook func(collection string, q remote.RangeQuery)
	callHook   func(method string)
}

var _ remote.Backend = (*Backend)(nil)

// Method names used for error injection and call counting.
const (
	MethodUpsert      = "Upsert"
	MethodUpdate      = "UpdateByID"
	MethodDelete      = "DeleteByID"
	MethodSelectRange = "SelectRange"
	MethodSummary     = "SubmitDailySummary"
	MethodPing        = "Ping"
)

// New returns an empty fake backend.
func New(immutable ...string) *Backend {
	b := &Backend{
		rows:      make(map[string]map[string]map[string]any),
		immutable: make(map[string]bool),
		errs:      make(map[string][]error),
		calls:     make(map[string]int),
	}
	for _, c := range immutable {
		b.immutable[c] = true
	}
	return b
}

// FailNext queues errors returned by the next calls to method, one per call.
func (b *Backend) FailNext(method string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[method] = append(b.errs[method], errs...)
}

// OnSelect registers a hook invoked on every SelectRange call.
func (b *Backend) OnSelect(fn func(collection string, q remote.RangeQuery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selectHook = fn
}

// OnCall registers a hook invoked before every call, outside the lock.
// A hook may block to simulate a slow backend.
func (b *Backend) OnCall(fn func(method string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callHook = fn
}

func (b *Backend) enter(method string) {
	b.mu.Lock()
	hook := b.callHook
	b.mu.Unlock()
	if hook != nil {
		hook(method)
	}
}

// Calls returns how many times method has been invoked.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Seed stores rows directly, bypassing immutability.
func (b *Backend) Seed(collection string, rows ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.put(collection, r)
	}
}

// Row returns a copy of a stored row.
func (b *Backend) Row(collection, id string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[collection][id]
	if !ok {
		return nil, false
	}
	return copyRow(r), true
}

// Count returns the number of rows in collection.
func (b *Backend) Count(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows[collection])
}

// Summaries returns the submitted daily summaries.
func (b *Backend) Summaries() []remote.DailySummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]remote.DailySummary(nil), b.summaries...)
}

// begin counts the call and pops an injected error. Caller holds mu.
func (b *Backend) begin(method string) error {
	b.calls[method]++
	if q := b.errs[method]; len(q) > 0 {
		b.errs[method] = q[1:]
		return q[0]
	}
	return nil
}

func (b *Backend) put(collection string, row map[string]any) {
	id := fmt.Sprint(row["id"])
	if b.rows[collection] == nil {
		b.rows[collection] = make(map[string]map[string]any)
	}
	b.rows[collection][id] = copyRow(row)
}

func (b *Backend) Upsert(_ context.Context, collection string, row map[string]any) error {
	b.enter(MethodUpsert)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(MethodUpsert); err != nil {
		return err
	}
	id := fmt.Sprint(row["id"])
	if _, exists := b.rows[collection][id]; exists && b.immutable[collection] {
		return &remote.Error{Status: 409, Title: "Conflict", Detail: "duplicate key " + id}
	}
	b.put(collection, row)
	return nil
}

func (b *Backend) UpdateByID(_ context.Context, collection, id string, fields map[string]any) error {
	b.enter(MethodUpdate)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(MethodUpdate); err != nil {
		return err
	}
	r, ok := b.rows[collection][id]
	if !ok {
		return &remote.Error{Status: 404, Title: "Not Found"}
	}
	for k, v := range fields {
		r[k] = v
	}
	return nil
}

func (b *Backend) DeleteByID(_ context.Context, collection, id string) error {
	b.enter(MethodDelete)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(MethodDelete); err != nil {
		return err
	}
	delete(b.rows[collection], id)
	return nil
}

// SelectRange returns rows of collection for the tenant, ordered by id.
func (b *Backend) SelectRange(_ context.Context, collection string, q remote.RangeQuery) ([]map[string]any, error) {
	b.enter(MethodSelectRange)
	b.mu.Lock()
	hook := b.selectHook
	err := b.begin(MethodSelectRange)
	var page []map[string]any
	if err == nil {
		var ids []string
		for id, r := range b.rows[collection] {
			if q.TenantID == "" || r["tenant_id"] == q.TenantID {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		limit := q.Limit
		if limit > remote.MaxPageSize {
			limit = remote.MaxPageSize
		}
		end := len(ids)
		if limit > 0 && q.Offset+limit < end {
			end = q.Offset + limit
		}
		for i := q.Offset; i < end; i++ {
			page = append(page, copyRow(b.rows[collection][ids[i]]))
		}
	}
	b.mu.Unlock()

	if hook != nil {
		hook(collection, q)
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (b *Backend) SubmitDailySummary(_ context.Context, s remote.DailySummary) error {
	b.enter(MethodSummary)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(MethodSummary); err != nil {
		return err
	}
	b.summaries = append(b.summaries, s)
	return nil
}

func (b *Backend) Ping(context.Context) error {
	b.enter(MethodPing)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begin(MethodPing)
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
