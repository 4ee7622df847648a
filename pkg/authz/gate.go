package authz

import (
	"context"
	"fmt"

	"github.com/lockhaven/tenantd/pkg/apperror"
)

// Tenant is the resolved-tenant view the gate hands to callers. The tenants
// package owns the full record; this is the slice authorization needs.
type Tenant struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Domain      string `json:"domain,omitempty"`
	DefaultRole Role   `json:"default_role"`
}

// TenantKey addresses a tenant by numeric id or by slug
type TenantKey string

// Directory resolves tenants and memberships from the store
type Directory interface {
	// ResolveTenant resolves a tenant by id or slug. Returns a not-found
	// application error when no tenant matches.
	ResolveTenant(ctx context.Context, key TenantKey) (*Tenant, error)

	// FindMemberRole returns the membership role for (tenantID, userID),
	// restricted to the valid tenant roles. Returns a not-found application
	// error when no membership row exists.
	FindMemberRole(ctx context.Context, tenantID, userID int64) (Role, error)
}

// Gate is the mandatory choke point for tenant-scoped operations. Handlers
// obtain an AccessContext here before touching any tenant state.
type Gate struct {
	dir Directory
}

// NewGate creates a new access gate backed by the given directory
func NewGate(dir Directory) *Gate {
	return &Gate{dir: dir}
}

// ResolveAccess determines the actor's standing in a tenant. Master admins
// resolve with role MASTER_ADMIN without requiring a membership row; all
// other actors must hold a membership or the request is forbidden.
func (g *Gate) ResolveAccess(ctx context.Context, actor Actor, key TenantKey) (*AccessContext, error) {
	tenant, err := g.dir.ResolveTenant(ctx, key)
	if err != nil {
		return nil, err
	}

	if actor.IsMasterAdmin {
		return &AccessContext{Actor: actor, Role: RoleMasterAdmin, Tenant: tenant}, nil
	}

	role, err := g.dir.FindMemberRole(ctx, tenant.ID, actor.ID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.Authorization("you do not have access to this tenant")
		}
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	if !IsTenantRole(role) {
		return nil, apperror.Authorization("you do not have access to this tenant")
	}

	return &AccessContext{Actor: actor, Role: role, Tenant: tenant}, nil
}

// Authorize resolves access and enforces the permission in one step,
// returning the AccessContext for the caller to proceed with.
func (g *Gate) Authorize(ctx context.Context, actor Actor, key TenantKey, resource Resource, action Action) (*AccessContext, error) {
	ac, err := g.ResolveAccess(ctx, actor, key)
	if err != nil {
		return nil, err
	}
	if err := RequireAllowed(ac, resource, action); err != nil {
		return nil, err
	}
	return ac, nil
}
