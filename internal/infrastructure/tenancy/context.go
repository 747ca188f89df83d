// Package tenancy carries the per-request tenant identity through
// context.Context.
//
// A Context value is attached at request entry and read by every layer that
// needs the active tenant: repositories, the row-level security bridge and
// the cache key builder. Because context values are immutable, a consultant
// override created by RunWithTenant can never leak into the caller's context
// or into concurrently running requests; the prior identity is intact on
// every exit path including panic and cancellation.
package tenancy

import (
	"context"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
)

// Role describes how a principal relates to tenant boundaries.
type Role string

const (
	// RoleStandard principals act within exactly one tenant.
	RoleStandard Role = "standard"
	// RoleConsultant principals may read across a bounded set of tenants,
	// one tenant at a time, subject to auditing.
	RoleConsultant Role = "consultant"
	// RoleSystem is reserved for out-of-band processes such as key rotation.
	RoleSystem Role = "system"
)

// Context is the ephemeral per-request tenant identity. It is created at
// request entry, carried by context.Context and never persisted.
type Context struct {
	TenantID            uuid.UUID
	UserID              uuid.UUID
	Role                Role
	AccessibleTenantIDs []uuid.UUID
}

// CanAccess reports whether the identity may act on the given tenant:
// its own tenant always, an accessible tenant only for consultants.
func (c Context) CanAccess(tenantID uuid.UUID) bool {
	if tenantID == uuid.Nil {
		return false
	}
	if c.TenantID == tenantID {
		return true
	}
	if c.Role != RoleConsultant {
		return false
	}
	for _, id := range c.AccessibleTenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithContext attaches the tenant identity to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant identity carried by ctx. A missing identity
// is an integration fault and fails with shared.ErrContextMissing.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || tc.TenantID == uuid.Nil {
		return Context{}, shared.ErrContextMissing
	}
	return tc, nil
}

// CurrentTenant returns the active tenant ID from ctx.
func CurrentTenant(ctx context.Context) (uuid.UUID, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return tc.TenantID, nil
}

// TenantIDString returns the active tenant ID as a string, or "" when no
// identity is attached. Used by layers that only decorate (logging, metrics)
// and must not fail on a missing context.
func TenantIDString(ctx context.Context) string {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || tc.TenantID == uuid.Nil {
		return ""
	}
	return tc.TenantID.String()
}

// UserIDString returns the active user ID as a string, or "" when absent.
func UserIDString(ctx context.Context) string {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || tc.UserID == uuid.Nil {
		return ""
	}
	return tc.UserID.String()
}

// CanAccessTenant reports whether the identity in ctx may act on tenantID.
// Returns false when ctx carries no identity.
func CanAccessTenant(ctx context.Context, tenantID uuid.UUID) bool {
	tc, err := FromContext(ctx)
	if err != nil {
		return false
	}
	return tc.CanAccess(tenantID)
}
