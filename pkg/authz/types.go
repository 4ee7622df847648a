package authz

// Role represents a user's role, either tenant-scoped or the system-wide
// master-admin tier
type Role string

const (
	RoleMasterAdmin Role = "MASTER_ADMIN"
	RoleOwner       Role = "OWNER"
	RoleAdmin       Role = "ADMIN"
	RoleMember      Role = "MEMBER"
)

// TenantRoles are the roles a TenantMember row may hold. MASTER_ADMIN is
// never stored as a membership role; it is a global flag on the user.
var TenantRoles = []Role{RoleOwner, RoleAdmin, RoleMember}

// IsTenantRole reports whether r is a valid membership role
func IsTenantRole(r Role) bool {
	for _, role := range TenantRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Resource identifies a protected resource type
type Resource string

const (
	ResourceAdminUsers     Resource = "admin_users"
	ResourceAdminTenants   Resource = "admin_tenants"
	ResourceAdminAuditLogs Resource = "admin_audit_logs"
	ResourceTenant         Resource = "tenant"
	ResourceTenantMember   Resource = "tenant_member"
	ResourceTenantInvite   Resource = "tenant_invitation"
	ResourceTenantAuditLog Resource = "tenant_audit_log"
	ResourceTenantWebhook  Resource = "tenant_webhook"
	ResourceTenantPayments Resource = "tenant_payments"
	ResourceTenantAPIKey   Resource = "tenant_api_key"
	ResourceTenantSSO      Resource = "tenant_sso"
	ResourceTenantDSync    Resource = "tenant_dsync"
)

// Action identifies an operation on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRead   Action = "read"
	ActionDelete Action = "delete"
	ActionLeave  Action = "leave"
)

// ActionSet is either the wildcard (all actions) or an explicit subset.
// The two cases are distinguished by the All flag rather than a sentinel
// value inside the list, so matching is an explicit branch.
type ActionSet struct {
	All     bool
	Actions []Action
}

// AllActions grants every action on a resource
func AllActions() ActionSet {
	return ActionSet{All: true}
}

// Actions grants an explicit subset
func Actions(actions ...Action) ActionSet {
	return ActionSet{Actions: actions}
}

// Contains reports whether the set grants the given action
func (s ActionSet) Contains(action Action) bool {
	if s.All {
		return true
	}
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Permission grants a set of actions on a single resource
type Permission struct {
	Resource Resource
	Actions  ActionSet
}

// allResources is every resource MASTER_ADMIN holds wildcard access to
var allResources = []Resource{
	ResourceAdminUsers,
	ResourceAdminTenants,
	ResourceAdminAuditLogs,
	ResourceTenant,
	ResourceTenantMember,
	ResourceTenantInvite,
	ResourceTenantAuditLog,
	ResourceTenantWebhook,
	ResourceTenantPayments,
	ResourceTenantAPIKey,
	ResourceTenantSSO,
	ResourceTenantDSync,
}

// tenantResources are the tenant-scoped resources OWNER and ADMIN manage
var tenantResources = []Resource{
	ResourceTenant,
	ResourceTenantMember,
	ResourceTenantInvite,
	ResourceTenantAuditLog,
	ResourceTenantWebhook,
	ResourceTenantPayments,
	ResourceTenantAPIKey,
	ResourceTenantSSO,
	ResourceTenantDSync,
}

// rolePermissions is the static role-permission table. It is built once at
// package init and read-only afterwards, safe for concurrent reads.
var rolePermissions = map[Role][]Permission{
	RoleMasterAdmin: wildcardPermissions(allResources),
	RoleOwner:       wildcardPermissions(tenantResources),
	RoleAdmin:       wildcardPermissions(tenantResources),
	RoleMember: {
		{Resource: ResourceTenant, Actions: Actions(ActionRead, ActionLeave)},
	},
}

func wildcardPermissions(resources []Resource) []Permission {
	perms := make([]Permission, 0, len(resources))
	for _, r := range resources {
		perms = append(perms, Permission{Resource: r, Actions: AllActions()})
	}
	return perms
}

// PermissionsFor returns the permission entries for a role. Unknown roles
// resolve to an empty set rather than an error; evaluation then denies.
func PermissionsFor(role Role) []Permission {
	return rolePermissions[role]
}
