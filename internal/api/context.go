package api

import (
	"context"
	"errors"

	"github.com/hyperengineering/tally/internal/cloud"
)

// claimsContextKey is the context key for the verified token claims.
type claimsContextKey struct{}

// ErrNoClaimsInContext indicates the request did not pass the JWT middleware.
var ErrNoClaimsInContext = errors.New("no claims in context")

// WithClaims returns a new context with the claims attached.
func WithClaims(ctx context.Context, c *cloud.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext extracts the claims from the context.
// Returns ErrNoClaimsInContext if not present or nil.
func ClaimsFromContext(ctx context.Context) (*cloud.Claims, error) {
	c, ok := ctx.Value(claimsContextKey{}).(*cloud.Claims)
	if !ok || c == nil {
		return nil, ErrNoClaimsInContext
	}
	return c, nil
}

// TenantFromContext returns the authenticated tenant, or "" without claims.
func TenantFromContext(ctx context.Context) string {
	c, err := ClaimsFromContext(ctx)
	if err != nil {
		return ""
	}
	return c.TenantID
}
