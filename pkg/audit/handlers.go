package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/httputil"
	"github.com/lockhaven/tenantd/pkg/middleware"
)

// Handlers provides the audit log read API
type Handlers struct {
	recorder *Recorder
}

// NewHandlers creates new audit handlers
func NewHandlers(recorder *Recorder) *Handlers {
	return &Handlers{recorder: recorder}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/audit-logs", h.listEntries).Methods("GET")
}

// listEntries handles GET /admin/audit-logs. Master admins only; denied
// reads are not themselves privileged actions and are not recorded.
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := authz.RequireMasterAdmin(actor); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, pagination, err := h.recorder.List(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"data":       entries,
		"pagination": pagination,
	})
}

// parseFilter parses listing filters from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{}

	if actionsStr := query.Get("action"); actionsStr != "" {
		for _, s := range strings.Split(actionsStr, ",") {
			action := Action(strings.TrimSpace(s))
			if !action.Valid() {
				return filter, apperror.Validationf("invalid action filter: %s", string(action))
			}
			filter.Actions = append(filter.Actions, action)
		}
	}

	if userIDStr := query.Get("user_id"); userIDStr != "" {
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			return filter, apperror.Validationf("invalid user_id parameter: %s", userIDStr)
		}
		filter.UserID = &userID
	}

	filter.TargetType = TargetType(query.Get("target_type"))
	filter.TargetID = query.Get("target_id")

	if fromStr := query.Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return filter, apperror.Validationf("invalid from parameter: %s", fromStr)
		}
		filter.From = &t
	}

	if toStr := query.Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return filter, apperror.Validationf("invalid to parameter: %s", toStr)
		}
		filter.To = &t
	}

	if pageStr := query.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return filter, apperror.Validationf("invalid page parameter: %s", pageStr)
		}
		filter.Page = page
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, apperror.Validationf("invalid limit parameter: %s", limitStr)
		}
		filter.Limit = limit
	}

	filter.Normalize()
	return filter, nil
}
