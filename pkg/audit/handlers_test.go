package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/contextkeys"
)

func newTestRouter(t *testing.T) (*mux.Router, sqlmock.Sqlmock) {
	recorder, mock := newTestRecorder(t)
	router := mux.NewRouter()
	NewHandlers(recorder).RegisterRoutes(router)
	return router, mock
}

func listRequest(actor *authz.Actor, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs"+query, nil)
	if actor != nil {
		req = req.WithContext(contextkeys.WithActor(req.Context(), actor))
	}
	return req
}

func TestListEntries(t *testing.T) {
	admin := &authz.Actor{ID: 1, IsMasterAdmin: true}

	t.Run("master admin reads entries", func(t *testing.T) {
		router, mock := newTestRouter(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_log_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery("SELECT id, user_id, action").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "target_type", "target_id", "details", "created_at"}).
				AddRow(int64(1), int64(1), "CREATE_TENANT", "TENANT", "10", nil, time.Now()))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, listRequest(admin, ""))

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data       []json.RawMessage `json:"data"`
			Pagination Pagination        `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Data, 1)
		assert.Equal(t, int64(1), body.Pagination.Total)
		assert.Equal(t, DefaultPageLimit, body.Pagination.Limit)
	})

	t.Run("anonymous gets 401", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, listRequest(nil, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tenant owner gets 403", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, listRequest(&authz.Actor{ID: 5}, ""))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("invalid action filter gets 400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, listRequest(admin, "?action=PAINT_SHED"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid time filter gets 400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, listRequest(admin, "?from=yesterday"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestParseFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/admin/audit-logs?action=CREATE_TENANT,DELETE_TENANT&user_id=7&target_type=TENANT&target_id=10&page=2&limit=25", nil)

	filter, err := parseFilter(req)
	require.NoError(t, err)

	assert.Equal(t, []Action{ActionCreateTenant, ActionDeleteTenant}, filter.Actions)
	require.NotNil(t, filter.UserID)
	assert.Equal(t, int64(7), *filter.UserID)
	assert.Equal(t, TargetTenant, filter.TargetType)
	assert.Equal(t, "10", filter.TargetID)
	assert.Equal(t, 2, filter.Page)
	assert.Equal(t, 25, filter.Limit)
}
