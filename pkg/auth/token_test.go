package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/tenantd/pkg/apperror"
)

func newTestManager(t *testing.T) (*TokenManager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &TokenManager{db: db}, mock
}

func TestGenerateToken(t *testing.T) {
	token, err := generateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, token, len(TokenPrefix)+64)

	other, err := generateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestCreateToken(t *testing.T) {
	manager, mock := newTestManager(t)

	mock.ExpectQuery(`INSERT INTO service_tokens`).
		WithArgs(int64(42), "ci-deploy", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))

	plaintext, token, err := manager.CreateToken(context.Background(), 42, "ci-deploy", time.Hour)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, TokenPrefix))
	assert.Equal(t, int64(7), token.ID)
	assert.Equal(t, hashToken(plaintext), token.TokenHash)
	require.NotNil(t, token.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateToken_RequiresName(t *testing.T) {
	manager, _ := newTestManager(t)

	_, _, err := manager.CreateToken(context.Background(), 42, "", 0)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestAuthenticate(t *testing.T) {
	t.Run("valid token resolves actor", func(t *testing.T) {
		manager, mock := newTestManager(t)
		plaintext := TokenPrefix + strings.Repeat("ab", 32)

		rows := sqlmock.NewRows([]string{"id", "expires_at", "revoked_at", "id", "name", "email", "is_master_admin"}).
			AddRow(int64(7), nil, nil, int64(42), "Dana Ops", "dana@example.com", true)
		mock.ExpectQuery(`SELECT t.id, t.expires_at, t.revoked_at`).
			WithArgs(hashToken(plaintext)).
			WillReturnRows(rows)
		mock.ExpectExec(`UPDATE service_tokens SET last_used_at`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		actor, err := manager.Authenticate(context.Background(), plaintext)
		require.NoError(t, err)
		assert.Equal(t, int64(42), actor.ID)
		assert.Equal(t, "dana@example.com", actor.Email)
		assert.True(t, actor.IsMasterAdmin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		manager, mock := newTestManager(t)
		plaintext := TokenPrefix + strings.Repeat("cd", 32)

		mock.ExpectQuery(`SELECT t.id, t.expires_at, t.revoked_at`).
			WithArgs(hashToken(plaintext)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "expires_at", "revoked_at", "id", "name", "email", "is_master_admin"}))

		_, err := manager.Authenticate(context.Background(), plaintext)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindAuthentication))
	})

	t.Run("wrong prefix rejected without query", func(t *testing.T) {
		manager, mock := newTestManager(t)

		_, err := manager.Authenticate(context.Background(), "eyJhbGciOi...")
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindAuthentication))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired token", func(t *testing.T) {
		manager, mock := newTestManager(t)
		plaintext := TokenPrefix + strings.Repeat("ef", 32)
		past := time.Now().Add(-time.Hour)

		rows := sqlmock.NewRows([]string{"id", "expires_at", "revoked_at", "id", "name", "email", "is_master_admin"}).
			AddRow(int64(7), past, nil, int64(42), "Dana Ops", "dana@example.com", false)
		mock.ExpectQuery(`SELECT t.id, t.expires_at, t.revoked_at`).
			WithArgs(hashToken(plaintext)).
			WillReturnRows(rows)

		_, err := manager.Authenticate(context.Background(), plaintext)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("revoked token", func(t *testing.T) {
		manager, mock := newTestManager(t)
		plaintext := TokenPrefix + strings.Repeat("01", 32)
		revoked := time.Now().Add(-time.Minute)

		rows := sqlmock.NewRows([]string{"id", "expires_at", "revoked_at", "id", "name", "email", "is_master_admin"}).
			AddRow(int64(7), nil, revoked, int64(42), "Dana Ops", "dana@example.com", false)
		mock.ExpectQuery(`SELECT t.id, t.expires_at, t.revoked_at`).
			WithArgs(hashToken(plaintext)).
			WillReturnRows(rows)

		_, err := manager.Authenticate(context.Background(), plaintext)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "revoked")
	})
}

func TestRevokeToken(t *testing.T) {
	t.Run("revokes existing token", func(t *testing.T) {
		manager, mock := newTestManager(t)

		mock.ExpectExec(`UPDATE service_tokens SET revoked_at`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, manager.RevokeToken(context.Background(), 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		manager, mock := newTestManager(t)

		mock.ExpectExec(`UPDATE service_tokens SET revoked_at`).
			WithArgs(int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := manager.RevokeToken(context.Background(), 99)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	})
}

func TestListTokens(t *testing.T) {
	manager, mock := newTestManager(t)
	now := time.Now()
	expiry := now.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "user_id", "name", "expires_at", "last_used_at", "revoked_at", "created_at"}).
		AddRow(int64(2), int64(42), "ci-deploy", expiry, now, nil, now).
		AddRow(int64(1), int64(42), "laptop", nil, nil, now, now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT id, user_id, name, expires_at`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	tokens, err := manager.ListTokens(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "ci-deploy", tokens[0].Name)
	require.NotNil(t, tokens[0].ExpiresAt)
	assert.False(t, tokens[0].IsRevoked())
	assert.True(t, tokens[1].IsRevoked())
	assert.Nil(t, tokens[1].ExpiresAt)
}
