package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	recorder, err := NewRecorder(db)
	require.NoError(t, err)

	return recorder, mock
}

func TestRecord(t *testing.T) {
	t.Run("records entry directly on the pool", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)

		mock.ExpectQuery("INSERT INTO audit_log_entries").
			WithArgs(int64(1), "CREATE_TENANT", "TENANT", "10", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

		entry := &Entry{
			UserID:     1,
			Action:     ActionCreateTenant,
			TargetType: TargetTenant,
			TargetID:   "10",
			Details:    map[string]interface{}{"slug": "acme"},
		}
		require.NoError(t, recorder.Record(context.Background(), recorder.db, entry))
		assert.Equal(t, int64(7), entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins the caller's transaction", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO audit_log_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
		mock.ExpectRollback()

		tx, err := recorder.db.Begin()
		require.NoError(t, err)

		entry := &Entry{UserID: 1, Action: ActionDeleteTenant, TargetType: TargetTenant, TargetID: "10"}
		require.NoError(t, recorder.Record(context.Background(), tx, entry))

		// Rolling back the transaction discards the entry with the mutation.
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown actions", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)

		entry := &Entry{UserID: 1, Action: Action("RENAME_GALAXY"), TargetType: TargetTenant, TargetID: "10"}
		err := recorder.Record(context.Background(), recorder.db, entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown audit action")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestList(t *testing.T) {
	entryRows := func() *sqlmock.Rows {
		now := time.Now()
		return sqlmock.NewRows([]string{"id", "user_id", "action", "target_type", "target_id", "details", "created_at"}).
			AddRow(int64(2), int64(1), "GRANT_MASTER_ADMIN", "USER", "5", []byte(`{"granted":true}`), now).
			AddRow(int64(1), int64(1), "CREATE_TENANT", "TENANT", "10", nil, now.Add(-time.Hour))
	}

	t.Run("lists newest first with pagination", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(120)))
		mock.ExpectQuery("SELECT id, user_id, action").
			WithArgs(50, 0).
			WillReturnRows(entryRows())

		entries, pagination, err := recorder.List(context.Background(), Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ActionGrantMasterAdmin, entries[0].Action)
		assert.Equal(t, true, entries[0].Details["granted"])
		assert.Nil(t, entries[1].Details)

		assert.Equal(t, int64(120), pagination.Total)
		assert.Equal(t, 1, pagination.Page)
		assert.Equal(t, DefaultPageLimit, pagination.Limit)
		assert.Equal(t, 3, pagination.Pages)
	})

	t.Run("caps limit at the maximum", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("SELECT id, user_id, action").
			WithArgs(MaxPageLimit, MaxPageLimit).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "target_type", "target_id", "details", "created_at"}))

		entries, pagination, err := recorder.List(context.Background(), Filter{Page: 2, Limit: 5000})
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Equal(t, MaxPageLimit, pagination.Limit)
		assert.Equal(t, 2, pagination.Page)
	})

	t.Run("applies action and user filters", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)
		userID := int64(1)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log_entries WHERE 1=1 AND action = ANY\(\$1\) AND user_id = \$2`).
			WithArgs(pq.Array([]string{"CREATE_TENANT", "DELETE_TENANT"}), userID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery("SELECT id, user_id, action").
			WithArgs(pq.Array([]string{"CREATE_TENANT", "DELETE_TENANT"}), userID, 50, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "target_type", "target_id", "details", "created_at"}).
				AddRow(int64(1), userID, "CREATE_TENANT", "TENANT", "10", nil, time.Now()))

		entries, _, err := recorder.List(context.Background(), Filter{
			Actions: []Action{ActionCreateTenant, ActionDeleteTenant},
			UserID:  &userID,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applies time range filters", func(t *testing.T) {
		recorder, mock := newTestRecorder(t)
		from := time.Now().Add(-24 * time.Hour)
		to := time.Now()

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log_entries WHERE 1=1 AND created_at >= \$1 AND created_at <= \$2`).
			WithArgs(from, to).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("SELECT id, user_id, action").
			WithArgs(from, to, 50, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "target_type", "target_id", "details", "created_at"}))

		_, _, err := recorder.List(context.Background(), Filter{From: &from, To: &to})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Page: -3, Limit: 0}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPageLimit, f.Limit)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, Limit: 20}
	f.Normalize()
	assert.Equal(t, 40, f.Offset())
}

func TestActionValid(t *testing.T) {
	for _, action := range Actions {
		assert.True(t, action.Valid(), "action %s should be valid", action)
	}
	assert.False(t, Action("SHRED_EVIDENCE").Valid())
}
