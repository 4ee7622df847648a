package tenants

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/httputil"
	"github.com/lockhaven/tenantd/pkg/middleware"
)

// Handlers provides the tenant HTTP API
type Handlers struct {
	service       *PostgresService
	gate          *authz.Gate
	invitationTTL time.Duration
}

// NewHandlers creates new tenant handlers
func NewHandlers(service *PostgresService, gate *authz.Gate, invitationTTL time.Duration) *Handlers {
	return &Handlers{
		service:       service,
		gate:          gate,
		invitationTTL: invitationTTL,
	}
}

// RegisterRoutes registers tenant routes. The /admin surface is reserved for
// master admins; the /tenants surface is gated per membership.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/tenants", h.createTenant).Methods("POST")
	router.HandleFunc("/admin/tenants", h.listTenants).Methods("GET")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}", h.getTenantAdmin).Methods("GET")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}", h.updateTenant).Methods("PUT")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}", h.deleteTenant).Methods("DELETE")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}/members", h.addMember).Methods("POST")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}/members", h.listMembersAdmin).Methods("GET")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}/members/{userId:[0-9]+}", h.updateMemberRole).Methods("PUT")
	router.HandleFunc("/admin/tenants/{id:[0-9]+}/members/{userId:[0-9]+}", h.removeMember).Methods("DELETE")

	router.HandleFunc("/tenants/{key}", h.getTenant).Methods("GET")
	router.HandleFunc("/tenants/{key}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/tenants/{key}/leave", h.leaveTenant).Methods("POST")
	router.HandleFunc("/tenants/{key}/invitations", h.createInvitation).Methods("POST")
	router.HandleFunc("/tenants/{key}/invitations", h.listInvitations).Methods("GET")
	router.HandleFunc("/invitations/{token}/accept", h.acceptInvitation).Methods("POST")
}

// requireActor returns the authenticated actor, writing a 401 when absent
func requireActor(w http.ResponseWriter, r *http.Request) *authz.Actor {
	actor := middleware.GetActor(r)
	if actor == nil {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return actor
}

// requireAdminAccess enforces an admin-surface permission for the actor
func requireAdminAccess(w http.ResponseWriter, actor *authz.Actor, resource authz.Resource, action authz.Action) bool {
	ac := &authz.AccessContext{Actor: *actor}
	if err := authz.RequireAllowed(ac, resource, action); err != nil {
		httputil.WriteAppError(w, err)
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, apperror.Validationf("invalid %s parameter", name)
	}
	return id, nil
}

func (h *Handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionCreate) {
		return
	}

	var req CreateTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tenant, err := h.service.CreateTenant(r.Context(), actor, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, tenant)
}

func (h *Handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionRead) {
		return
	}

	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"data": tenants})
}

func (h *Handlers) getTenantAdmin(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionRead) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

func (h *Handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionUpdate) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateTenantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tenant, err := h.service.UpdateTenant(r.Context(), actor, id, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

func (h *Handlers) deleteTenant(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionDelete) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.DeleteTenant(r.Context(), actor, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionUpdate) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req AddMemberRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	member, err := h.service.AddMember(r.Context(), actor, id, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}

func (h *Handlers) listMembersAdmin(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionRead) {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"data": members})
}

func (h *Handlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionUpdate) {
		return
	}

	tenantID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateMemberRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	member, err := h.service.UpdateMemberRole(r.Context(), actor, tenantID, userID, &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}
	if !requireAdminAccess(w, actor, authz.ResourceAdminTenants, authz.ActionUpdate) {
		return
	}

	tenantID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.RemoveMember(r.Context(), actor, tenantID, userID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	key := authz.TenantKey(mux.Vars(r)["key"])
	ac, err := h.gate.Authorize(r.Context(), *actor, key, authz.ResourceTenant, authz.ActionRead)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), ac.Tenant.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	key := authz.TenantKey(mux.Vars(r)["key"])
	ac, err := h.gate.Authorize(r.Context(), *actor, key, authz.ResourceTenantMember, authz.ActionRead)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	members, err := h.service.ListMembers(r.Context(), ac.Tenant.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"data": members})
}

// leaveTenant removes the actor's own membership. Not audited.
func (h *Handlers) leaveTenant(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	key := authz.TenantKey(mux.Vars(r)["key"])
	ac, err := h.gate.Authorize(r.Context(), *actor, key, authz.ResourceTenant, authz.ActionLeave)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.service.Leave(r.Context(), actor, ac.Tenant.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	key := authz.TenantKey(mux.Vars(r)["key"])
	ac, err := h.gate.Authorize(r.Context(), *actor, key, authz.ResourceTenantInvite, authz.ActionCreate)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req CreateInvitationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	invitation, err := h.service.CreateInvitation(r.Context(), actor, ac.Tenant.ID, &req, h.invitationTTL)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, invitation)
}

func (h *Handlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	key := authz.TenantKey(mux.Vars(r)["key"])
	ac, err := h.gate.Authorize(r.Context(), *actor, key, authz.ResourceTenantInvite, authz.ActionRead)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	invitations, err := h.service.ListInvitations(r.Context(), ac.Tenant.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"data": invitations})
}

func (h *Handlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	actor := requireActor(w, r)
	if actor == nil {
		return
	}

	token := mux.Vars(r)["token"]
	member, err := h.service.AcceptInvitation(r.Context(), actor, token)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}
