package auth

import (
	"context"
	"time"

	"github.com/lockhaven/tenantd/pkg/authz"
)

// TokenPrefix identifies service tokens issued by this service
const TokenPrefix = "tnd_"

// Token represents an issued service token. The plaintext value is returned
// exactly once at creation time; only its SHA-256 hash is stored.
type Token struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// IsExpired returns true if the token has passed its expiry
func (t *Token) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// Authenticator resolves a bearer credential to an actor
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*authz.Actor, error)
}
