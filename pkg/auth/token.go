package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// TokenManager issues and validates service tokens backed by PostgreSQL
type TokenManager struct {
	db *sql.DB
}

// NewTokenManager creates a token manager and ensures its table exists
func NewTokenManager(db *sql.DB) (*TokenManager, error) {
	m := &TokenManager{db: db}
	if err := m.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize token table: %w", err)
	}
	return m, nil
}

func (m *TokenManager) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS service_tokens (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		expires_at TIMESTAMP WITH TIME ZONE,
		last_used_at TIMESTAMP WITH TIME ZONE,
		revoked_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_service_tokens_user_id ON service_tokens(user_id);
	`
	_, err := m.db.Exec(query)
	return err
}

// generateToken creates a new random token with the service prefix
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(raw), nil
}

// hashToken computes the SHA-256 hex digest of a plaintext token
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateToken issues a new service token for a user. The returned string is
// the only copy of the plaintext token.
func (m *TokenManager) CreateToken(ctx context.Context, userID int64, name string, ttl time.Duration) (string, *Token, error) {
	if name == "" {
		return "", nil, apperror.Validation("token name is required")
	}

	plaintext, err := generateToken()
	if err != nil {
		return "", nil, err
	}

	token := &Token{
		UserID:    userID,
		Name:      name,
		TokenHash: hashToken(plaintext),
	}
	if ttl > 0 {
		expiry := time.Now().Add(ttl)
		token.ExpiresAt = &expiry
	}

	query := `
		INSERT INTO service_tokens (user_id, name, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err = m.db.QueryRowContext(ctx, query,
		token.UserID, token.Name, token.TokenHash, token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create token: %w", err)
	}

	return plaintext, token, nil
}

// Authenticate validates a plaintext token and resolves the owning user
func (m *TokenManager) Authenticate(ctx context.Context, credential string) (*authz.Actor, error) {
	if !strings.HasPrefix(credential, TokenPrefix) {
		return nil, apperror.Authentication("unrecognized token format")
	}

	query := `
		SELECT t.id, t.expires_at, t.revoked_at,
		       u.id, u.name, u.email, u.is_master_admin
		FROM service_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1`

	var (
		tokenID   int64
		expiresAt sql.NullTime
		revokedAt sql.NullTime
		actor     authz.Actor
	)
	err := m.db.QueryRowContext(ctx, query, hashToken(credential)).Scan(
		&tokenID, &expiresAt, &revokedAt,
		&actor.ID, &actor.Name, &actor.Email, &actor.IsMasterAdmin,
	)
	if err == sql.ErrNoRows {
		return nil, apperror.Authentication("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if revokedAt.Valid {
		return nil, apperror.Authentication("token has been revoked")
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, apperror.Authentication("token has expired")
	}

	m.touchToken(ctx, tokenID)

	return &actor, nil
}

// touchToken records when a token was last used. Best effort, a failure here
// must not fail the request.
func (m *TokenManager) touchToken(ctx context.Context, tokenID int64) {
	_, _ = m.db.ExecContext(ctx,
		`UPDATE service_tokens SET last_used_at = NOW() WHERE id = $1`, tokenID)
}

// RevokeToken revokes a token by id
func (m *TokenManager) RevokeToken(ctx context.Context, tokenID int64) error {
	result, err := m.db.ExecContext(ctx,
		`UPDATE service_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`,
		tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("token not found or already revoked")
	}

	return nil
}

// ListTokens returns all tokens for a user, newest first
func (m *TokenManager) ListTokens(ctx context.Context, userID int64) ([]*Token, error) {
	query := `
		SELECT id, user_id, name, expires_at, last_used_at, revoked_at, created_at
		FROM service_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		token := &Token{}
		var expiresAt, lastUsedAt, revokedAt sql.NullTime
		err := rows.Scan(&token.ID, &token.UserID, &token.Name,
			&expiresAt, &lastUsedAt, &revokedAt, &token.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if expiresAt.Valid {
			token.ExpiresAt = &expiresAt.Time
		}
		if lastUsedAt.Valid {
			token.LastUsedAt = &lastUsedAt.Time
		}
		if revokedAt.Valid {
			token.RevokedAt = &revokedAt.Time
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}
