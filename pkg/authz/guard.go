package authz

import (
	"github.com/lockhaven/tenantd/pkg/apperror"
)

// Guard checks for privileged mutations. Each check is side-effect-free and
// independently composable; callers run every applicable check before
// applying the write. The last-admin count must be fetched live inside the
// same transaction as the mutation, never from a cached session value.

// RequireMasterAdmin rejects actors without master-admin authority.
// Tenant-lifecycle and membership mutations require this tier regardless of
// any OWNER or ADMIN role the actor holds inside the tenant.
func RequireMasterAdmin(actor *Actor) error {
	if actor == nil || !actor.IsMasterAdmin {
		return apperror.Authorization("master admin privileges required")
	}
	return nil
}

// CheckNotSelf rejects an actor changing their own master-admin flag
func CheckNotSelf(actorID, targetUserID int64) error {
	if actorID == targetUserID {
		return apperror.Validation("cannot modify your own admin status")
	}
	return nil
}

// CheckNotLastAdmin rejects a demotion or deletion that would leave the
// system without a master admin. adminCount is the live count including the
// target user.
func CheckNotLastAdmin(adminCount int) error {
	if adminCount <= 1 {
		return apperror.Validation("cannot remove the last master administrator")
	}
	return nil
}
