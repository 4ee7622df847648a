package authz

import (
	"github.com/lockhaven/tenantd/pkg/apperror"
)

// Actor is the authenticated identity supplied by the identity layer.
// The core trusts IsMasterAdmin as handed in; invariant checks that depend
// on the current admin population re-count against the store instead.
type Actor struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	IsMasterAdmin bool   `json:"is_master_admin"`
}

// AccessContext is the result of resolving an actor against a tenant.
// It is produced once per request by the Gate and threaded through to
// every permission check so membership is never re-read mid-request.
type AccessContext struct {
	Actor  Actor   `json:"actor"`
	Role   Role    `json:"role"`
	Tenant *Tenant `json:"tenant"`
}

// IsMasterAdmin reports whether the context carries master-admin authority
func (ac *AccessContext) IsMasterAdmin() bool {
	return ac.Actor.IsMasterAdmin
}

// IsAllowed reports whether the context permits the action on the resource.
// Master admins are allowed unconditionally; everyone else is evaluated
// against the role-permission table, deny-by-default. Pure, never errors,
// so it can back both server enforcement and UI conditionals.
func IsAllowed(ac *AccessContext, resource Resource, action Action) bool {
	if ac.IsMasterAdmin() {
		return true
	}
	for _, perm := range PermissionsFor(ac.Role) {
		if perm.Resource == resource && perm.Actions.Contains(action) {
			return true
		}
	}
	return false
}

// RequireAllowed is the throwing form of IsAllowed. The denial names the
// resource and action but nothing about why the table denied it.
func RequireAllowed(ac *AccessContext, resource Resource, action Action) error {
	if !IsAllowed(ac, resource, action) {
		return apperror.Authorizationf("you are not allowed to perform %s on %s", action, resource)
	}
	return nil
}
