package users

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/authz"
)

var adminActor = &authz.Actor{ID: 1, Name: "Dana Ops", Email: "dana@example.com", IsMasterAdmin: true}

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	recorder, err := audit.NewRecorder(db)
	require.NoError(t, err)

	return NewPostgresService(db, recorder), mock
}

func expectAuditInsert(mock sqlmock.Sqlmock, action audit.Action) {
	mock.ExpectQuery("INSERT INTO audit_log_entries").
		WithArgs(sqlmock.AnyArg(), string(action), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))
}

func userRow(id int64, name, email string, isAdmin bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "name", "email", "is_master_admin", "created_at", "updated_at"}).
		AddRow(id, name, email, isAdmin, now, now)
}

func TestCreateUser(t *testing.T) {
	t.Run("creates user", func(t *testing.T) {
		service, mock := newTestService(t)
		now := time.Now()

		mock.ExpectQuery("INSERT INTO users").
			WithArgs("Sam Dev", "sam@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "is_master_admin", "created_at", "updated_at"}).
				AddRow(int64(2), false, now, now))

		user, err := service.CreateUser(context.Background(), adminActor, &CreateUserRequest{
			Name: "Sam Dev", Email: "sam@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), user.ID)
		assert.False(t, user.IsMasterAdmin)
	})

	t.Run("non-admin rejected", func(t *testing.T) {
		service, _ := newTestService(t)

		_, err := service.CreateUser(context.Background(), &authz.Actor{ID: 2}, &CreateUserRequest{
			Name: "Sam Dev", Email: "sam@example.com",
		})
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindAuthorization))
	})

	t.Run("invalid email rejected", func(t *testing.T) {
		service, _ := newTestService(t)

		_, err := service.CreateUser(context.Background(), adminActor, &CreateUserRequest{
			Name: "Sam Dev", Email: "not-an-email",
		})
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})
}

func TestSetMasterAdmin_Grant(t *testing.T) {
	service, mock := newTestService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users WHERE id = .. FOR UPDATE").
		WithArgs(int64(2)).
		WillReturnRows(userRow(2, "Sam Dev", "sam@example.com", false))
	mock.ExpectQuery("UPDATE users SET is_master_admin").
		WithArgs(true, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	expectAuditInsert(mock, audit.ActionGrantMasterAdmin)
	mock.ExpectCommit()

	user, err := service.SetMasterAdmin(context.Background(), adminActor, 2, true)
	require.NoError(t, err)
	assert.True(t, user.IsMasterAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMasterAdmin_Revoke(t *testing.T) {
	t.Run("revokes when another admin remains", func(t *testing.T) {
		service, mock := newTestService(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id = .. FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(userRow(2, "Sam Dev", "sam@example.com", true))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("UPDATE users SET is_master_admin").
			WithArgs(false, int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		expectAuditInsert(mock, audit.ActionRevokeMasterAdmin)
		mock.ExpectCommit()

		user, err := service.SetMasterAdmin(context.Background(), adminActor, 2, false)
		require.NoError(t, err)
		assert.False(t, user.IsMasterAdmin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last admin protected by live count", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id = .. FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(userRow(2, "Sam Dev", "sam@example.com", true))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.SetMasterAdmin(context.Background(), adminActor, 2, false)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		assert.Contains(t, err.Error(), "last master administrator")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self modification blocked before the transaction", func(t *testing.T) {
		service, mock := newTestService(t)

		_, err := service.SetMasterAdmin(context.Background(), adminActor, adminActor.ID, false)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		assert.Contains(t, err.Error(), "your own admin status")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoking a non-admin rejected", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM users WHERE id = .. FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(userRow(2, "Sam Dev", "sam@example.com", false))
		mock.ExpectRollback()

		_, err := service.SetMasterAdmin(context.Background(), adminActor, 2, false)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})
}

func TestDeleteUser(t *testing.T) {
	t.Run("deleting a master admin is audited and count-checked", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT name, email, is_master_admin FROM users").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "email", "is_master_admin"}).
				AddRow("Sam Dev", "sam@example.com", true))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectExec("DELETE FROM users").
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAuditInsert(mock, audit.ActionDeleteMasterAdmin)
		mock.ExpectCommit()

		require.NoError(t, service.DeleteUser(context.Background(), adminActor, 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleting the last master admin rejected", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT name, email, is_master_admin FROM users").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "email", "is_master_admin"}).
				AddRow("Sam Dev", "sam@example.com", true))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := service.DeleteUser(context.Background(), adminActor, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "last master administrator")
	})

	t.Run("deleting a regular user skips the audit entry", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT name, email, is_master_admin FROM users").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "email", "is_master_admin"}).
				AddRow("Kim QA", "kim@example.com", false))
		mock.ExpectExec("DELETE FROM users").
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, service.DeleteUser(context.Background(), adminActor, 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBootstrap(t *testing.T) {
	t.Run("creates first master admin", func(t *testing.T) {
		service, mock := newTestService(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("Dana Ops", "dana@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))
		mock.ExpectCommit()

		user, err := service.Bootstrap(context.Background(), "Dana Ops", "dana@example.com")
		require.NoError(t, err)
		assert.True(t, user.IsMasterAdmin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses when a master admin exists", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.Bootstrap(context.Background(), "Dana Ops", "dana@example.com")
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	})
}

func TestGetUser(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery("FROM users WHERE id").
			WithArgs(int64(2)).
			WillReturnRows(userRow(2, "Sam Dev", "sam@example.com", false))

		user, err := service.GetUser(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, "sam@example.com", user.Email)
	})

	t.Run("not found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery("FROM users WHERE id").
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "is_master_admin", "created_at", "updated_at"}))

		_, err := service.GetUser(context.Background(), 404)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	})
}

func TestListMasterAdmins(t *testing.T) {
	service, mock := newTestService(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "email", "is_master_admin", "created_at", "updated_at"}).
		AddRow(int64(1), "Dana Ops", "dana@example.com", true, now, now).
		AddRow(int64(4), "Lee SRE", "lee@example.com", true, now, now)
	mock.ExpectQuery("FROM users WHERE is_master_admin").
		WillReturnRows(rows)

	admins, err := service.ListMasterAdmins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.True(t, admins[0].IsMasterAdmin)
}
