// Package tenant resolves the authenticated principal and binds the tenant
// scope onto the request context. site_id is only ever taken from the
// principal: any site identifier arriving in a request body, query string,
// or header is ignored at this boundary (admin routes name a target site in
// the URL, and that is re-bound explicitly after admin auth).
package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/domain"
)

type contextKey int

const principalKey contextKey = iota

// Principal is the authenticated caller: either a site (API key auth) or a
// platform admin acting on an explicitly named site.
type Principal struct {
	SiteID uuid.UUID
	Admin  bool
}

// WithPrincipal binds the principal onto the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the bound principal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// SiteID returns the authenticated tenant, or ErrUnauthenticated when no
// principal is bound. Every data access must be scoped by this value.
func SiteID(ctx context.Context) (uuid.UUID, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.SiteID == uuid.Nil {
		return uuid.Nil, domain.ErrUnauthenticated
	}
	return p.SiteID, nil
}
