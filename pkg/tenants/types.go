package tenants

import (
	"regexp"
	"time"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// Tenant represents an isolated customer workspace
type Tenant struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Domain      string     `json:"domain,omitempty"`
	DefaultRole authz.Role `json:"defaultRole"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TenantMember represents a user's membership in a tenant
type TenantMember struct {
	ID        int64      `json:"id"`
	TenantID  int64      `json:"tenantId"`
	UserID    int64      `json:"userId"`
	Role      authz.Role `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Joined from users for list responses
	UserName  string `json:"userName,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
}

// TenantInvitation represents a pending invitation to join a tenant
type TenantInvitation struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenantId"`
	Email      string     `json:"email"`
	Role       authz.Role `json:"role"`
	Token      string     `json:"token,omitempty"`
	InvitedBy  int64      `json:"invitedBy"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// IsExpired returns true if the invitation has passed its expiry
func (i *TenantInvitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// CreateTenantRequest is the payload for creating a tenant
type CreateTenantRequest struct {
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Domain      string     `json:"domain,omitempty"`
	DefaultRole authz.Role `json:"defaultRole,omitempty"`
}

// slugPattern permits lowercase DNS-label style identifiers
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Validate checks the create request
func (r *CreateTenantRequest) Validate() error {
	if r.Slug == "" {
		return apperror.Validation("slug is required")
	}
	if !slugPattern.MatchString(r.Slug) {
		return apperror.Validation("slug must be a lowercase alphanumeric identifier")
	}
	if r.Name == "" {
		return apperror.Validation("name is required")
	}
	if r.DefaultRole == "" {
		r.DefaultRole = authz.RoleMember
	}
	if !authz.IsTenantRole(r.DefaultRole) {
		return apperror.Validationf("invalid default role: %s", r.DefaultRole)
	}
	return nil
}

// UpdateTenantRequest is the payload for updating a tenant. Nil fields are
// left unchanged.
type UpdateTenantRequest struct {
	Name        *string     `json:"name,omitempty"`
	Domain      *string     `json:"domain,omitempty"`
	DefaultRole *authz.Role `json:"defaultRole,omitempty"`
}

// Validate checks the update request
func (r *UpdateTenantRequest) Validate() error {
	if r.Name == nil && r.Domain == nil && r.DefaultRole == nil {
		return apperror.Validation("no fields to update")
	}
	if r.Name != nil && *r.Name == "" {
		return apperror.Validation("name cannot be empty")
	}
	if r.DefaultRole != nil && !authz.IsTenantRole(*r.DefaultRole) {
		return apperror.Validationf("invalid default role: %s", *r.DefaultRole)
	}
	return nil
}

// AddMemberRequest is the payload for adding a member to a tenant
type AddMemberRequest struct {
	UserID int64      `json:"userId"`
	Role   authz.Role `json:"role"`
}

// Validate checks the add-member request
func (r *AddMemberRequest) Validate() error {
	if r.UserID <= 0 {
		return apperror.Validation("userId is required")
	}
	if !authz.IsTenantRole(r.Role) {
		return apperror.Validationf("invalid role: %s", r.Role)
	}
	return nil
}

// UpdateMemberRoleRequest is the payload for changing a member's role
type UpdateMemberRoleRequest struct {
	Role authz.Role `json:"role"`
}

// Validate checks the role-update request
func (r *UpdateMemberRoleRequest) Validate() error {
	if !authz.IsTenantRole(r.Role) {
		return apperror.Validationf("invalid role: %s", r.Role)
	}
	return nil
}

// CreateInvitationRequest is the payload for inviting a user by email
type CreateInvitationRequest struct {
	Email string     `json:"email"`
	Role  authz.Role `json:"role,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validate checks the invitation request
func (r *CreateInvitationRequest) Validate(defaultRole authz.Role) error {
	if r.Email == "" {
		return apperror.Validation("email is required")
	}
	if !emailPattern.MatchString(r.Email) {
		return apperror.Validation("invalid email address")
	}
	if r.Role == "" {
		r.Role = defaultRole
	}
	if !authz.IsTenantRole(r.Role) {
		return apperror.Validationf("invalid role: %s", r.Role)
	}
	return nil
}
