package users

import (
	"regexp"
	"time"

	"github.com/lockhaven/tenantd/pkg/apperror"
)

// User represents an account known to the service
type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	IsMasterAdmin bool      `json:"isMasterAdmin"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateUserRequest is the payload for creating a user
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validate checks the create request
func (r *CreateUserRequest) Validate() error {
	if r.Name == "" {
		return apperror.Validation("name is required")
	}
	if r.Email == "" {
		return apperror.Validation("email is required")
	}
	if !emailPattern.MatchString(r.Email) {
		return apperror.Validation("invalid email address")
	}
	return nil
}

// SetMasterAdminRequest is the payload for granting or revoking the flag
type SetMasterAdminRequest struct {
	Granted bool `json:"granted"`
}
