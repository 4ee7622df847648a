package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/tenantd/pkg/apperror"
)

func accessCtx(role Role, isMasterAdmin bool) *AccessContext {
	return &AccessContext{
		Actor: Actor{ID: 1, Name: "test", Email: "test@example.com", IsMasterAdmin: isMasterAdmin},
		Role:  role,
		Tenant: &Tenant{
			ID:          10,
			Slug:        "acme",
			Name:        "Acme",
			DefaultRole: RoleMember,
		},
	}
}

func TestIsAllowed_MasterAdminBypass(t *testing.T) {
	ac := accessCtx(RoleMasterAdmin, true)

	for _, resource := range allResources {
		for _, action := range []Action{ActionCreate, ActionUpdate, ActionRead, ActionDelete, ActionLeave} {
			assert.True(t, IsAllowed(ac, resource, action),
				"master admin should be allowed %s on %s", action, resource)
		}
	}
}

func TestIsAllowed_DenyByDefault(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		resource Resource
		action   Action
	}{
		{"member cannot create tenant", RoleMember, ResourceTenant, ActionCreate},
		{"member cannot delete tenant", RoleMember, ResourceTenant, ActionDelete},
		{"member cannot read members", RoleMember, ResourceTenantMember, ActionRead},
		{"member cannot read audit log", RoleMember, ResourceTenantAuditLog, ActionRead},
		{"owner cannot read admin users", RoleOwner, ResourceAdminUsers, ActionRead},
		{"owner cannot read admin audit logs", RoleOwner, ResourceAdminAuditLogs, ActionRead},
		{"admin cannot update admin tenants", RoleAdmin, ResourceAdminTenants, ActionUpdate},
		{"unknown role denied everything", Role("INTRUDER"), ResourceTenant, ActionRead},
		{"empty role denied everything", Role(""), ResourceTenant, ActionRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := accessCtx(tt.role, false)
			assert.False(t, IsAllowed(ac, tt.resource, tt.action))
		})
	}
}

func TestIsAllowed_TenantRoles(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		resource Resource
		action   Action
		allowed  bool
	}{
		{"member can read tenant", RoleMember, ResourceTenant, ActionRead, true},
		{"member can leave tenant", RoleMember, ResourceTenant, ActionLeave, true},
		{"owner can update tenant", RoleOwner, ResourceTenant, ActionUpdate, true},
		{"owner can manage webhooks", RoleOwner, ResourceTenantWebhook, ActionCreate, true},
		{"admin can read members", RoleAdmin, ResourceTenantMember, ActionRead, true},
		{"admin can manage api keys", RoleAdmin, ResourceTenantAPIKey, ActionDelete, true},
		{"member cannot manage webhooks", RoleMember, ResourceTenantWebhook, ActionCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := accessCtx(tt.role, false)
			assert.Equal(t, tt.allowed, IsAllowed(ac, tt.resource, tt.action))
		})
	}
}

func TestRequireAllowed(t *testing.T) {
	t.Run("allowed returns nil", func(t *testing.T) {
		ac := accessCtx(RoleOwner, false)
		assert.NoError(t, RequireAllowed(ac, ResourceTenant, ActionUpdate))
	})

	t.Run("denied returns authorization error naming resource and action", func(t *testing.T) {
		ac := accessCtx(RoleMember, false)
		err := RequireAllowed(ac, ResourceTenant, ActionDelete)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindAuthorization))
		assert.Contains(t, err.Error(), "delete")
		assert.Contains(t, err.Error(), "tenant")
	})
}

func TestPermissionsFor(t *testing.T) {
	t.Run("unknown role returns empty set", func(t *testing.T) {
		assert.Empty(t, PermissionsFor(Role("nope")))
	})

	t.Run("member role grants read and leave only", func(t *testing.T) {
		perms := PermissionsFor(RoleMember)
		require.Len(t, perms, 1)
		assert.Equal(t, ResourceTenant, perms[0].Resource)
		assert.False(t, perms[0].Actions.All)
		assert.True(t, perms[0].Actions.Contains(ActionRead))
		assert.True(t, perms[0].Actions.Contains(ActionLeave))
		assert.False(t, perms[0].Actions.Contains(ActionUpdate))
	})

	t.Run("master admin holds wildcard on every resource", func(t *testing.T) {
		perms := PermissionsFor(RoleMasterAdmin)
		require.Len(t, perms, len(allResources))
		for _, perm := range perms {
			assert.True(t, perm.Actions.All)
		}
	})
}

func TestActionSet(t *testing.T) {
	t.Run("wildcard contains everything", func(t *testing.T) {
		set := AllActions()
		assert.True(t, set.Contains(ActionCreate))
		assert.True(t, set.Contains(Action("anything")))
	})

	t.Run("subset contains only listed actions", func(t *testing.T) {
		set := Actions(ActionRead)
		assert.True(t, set.Contains(ActionRead))
		assert.False(t, set.Contains(ActionDelete))
	})
}
