package users

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/httputil"
	"github.com/lockhaven/tenantd/pkg/middleware"
)

// Handlers provides the user administration HTTP API
type Handlers struct {
	service *PostgresService
}

// NewHandlers creates new user handlers
func NewHandlers(service *PostgresService) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers user administration routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/users", h.createUser).Methods("POST")
	router.HandleFunc("/admin/users", h.listUsers).Methods("GET")
	router.HandleFunc("/admin/users/{id:[0-9]+}", h.getUser).Methods("GET")
	router.HandleFunc("/admin/users/{id:[0-9]+}", h.deleteUser).Methods("DELETE")
	router.HandleFunc("/admin/users/{id:[0-9]+}/master-admin", h.setMasterAdmin).Methods("PUT")
}

// adminAccess authenticates the actor and enforces an admin-users permission
func (h *Handlers) adminAccess(w http.ResponseWriter, r *http.Request, action authz.Action) *authz.Actor {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil
	}

	ac := &authz.AccessContext{Actor: *actor}
	if err := authz.RequireAllowed(ac, authz.ResourceAdminUsers, action); err != nil {
		httputil.WriteAppError(w, err)
		return nil
	}
	return actor
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperror.Validation("invalid id parameter")
	}
	return id, nil
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	actor := h.adminAccess(w, r, authz.ActionCreate)
	if actor == nil {
		return
	}

	var req CreateUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.service.CreateUser(r.Context(), actor, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, user)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	actor := h.adminAccess(w, r, authz.ActionRead)
	if actor == nil {
		return
	}

	var (
		users []*User
		err   error
	)
	if r.URL.Query().Get("master_admins") == "true" {
		users, err = h.service.ListMasterAdmins(r.Context())
	} else {
		users, err = h.service.ListUsers(r.Context())
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"data": users})
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	actor := h.adminAccess(w, r, authz.ActionRead)
	if actor == nil {
		return
	}

	id, err := pathID(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor := h.adminAccess(w, r, authz.ActionDelete)
	if actor == nil {
		return
	}

	id, err := pathID(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.DeleteUser(r.Context(), actor, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) setMasterAdmin(w http.ResponseWriter, r *http.Request) {
	actor := h.adminAccess(w, r, authz.ActionUpdate)
	if actor == nil {
		return
	}

	id, err := pathID(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req SetMasterAdminRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	user, err := h.service.SetMasterAdmin(r.Context(), actor, id, req.Granted)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}
