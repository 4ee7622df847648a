package audit

import (
	"time"
)

// Action is the closed enumeration of auditable privileged actions
type Action string

const (
	ActionCreateTenant           Action = "CREATE_TENANT"
	ActionUpdateTenant           Action = "UPDATE_TENANT"
	ActionDeleteTenant           Action = "DELETE_TENANT"
	ActionAddTenantMember        Action = "ADD_TENANT_MEMBER"
	ActionRemoveTenantMember     Action = "REMOVE_TENANT_MEMBER"
	ActionUpdateTenantMemberRole Action = "UPDATE_TENANT_MEMBER_ROLE"
	ActionGrantMasterAdmin       Action = "GRANT_MASTER_ADMIN"
	ActionRevokeMasterAdmin      Action = "REVOKE_MASTER_ADMIN"
	ActionDeleteMasterAdmin      Action = "DELETE_MASTER_ADMIN"
)

// Actions lists every member of the enumeration
var Actions = []Action{
	ActionCreateTenant,
	ActionUpdateTenant,
	ActionDeleteTenant,
	ActionAddTenantMember,
	ActionRemoveTenantMember,
	ActionUpdateTenantMemberRole,
	ActionGrantMasterAdmin,
	ActionRevokeMasterAdmin,
	ActionDeleteMasterAdmin,
}

// Valid reports whether a is a member of the closed enumeration
func (a Action) Valid() bool {
	for _, action := range Actions {
		if a == action {
			return true
		}
	}
	return false
}

// TargetType classifies what an entry's TargetID refers to. The reference is
// by convention only; there is no foreign key behind it.
type TargetType string

const (
	TargetTenant       TargetType = "TENANT"
	TargetUser         TargetType = "USER"
	TargetTenantMember TargetType = "TENANT_MEMBER"
)

// Entry is a single immutable audit record
type Entry struct {
	ID         int64                  `json:"id"`
	UserID     int64                  `json:"user_id"`
	Action     Action                 `json:"action"`
	TargetType TargetType             `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Filter narrows an audit log listing
type Filter struct {
	Actions    []Action
	UserID     *int64
	TargetType TargetType
	TargetID   string
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

// MaxPageLimit caps the page size of the read API
const MaxPageLimit = 100

// DefaultPageLimit is used when the caller does not specify one
const DefaultPageLimit = 50

// Normalize clamps pagination to sane bounds
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// Offset returns the row offset for the normalized filter
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Pagination describes a page of results
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}
