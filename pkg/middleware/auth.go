package middleware

import (
	"net/http"
	"strings"

	"github.com/lockhaven/tenantd/pkg/auth"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/contextkeys"
	"github.com/lockhaven/tenantd/pkg/httputil"
	"github.com/lockhaven/tenantd/pkg/observability"
)

// AuthMiddleware resolves bearer credentials to an actor
type AuthMiddleware struct {
	authenticator auth.Authenticator
	optional      bool // when true, requests without credentials pass through anonymously
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator auth.Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		actor, err := m.authenticator.Authenticate(r.Context(), parts[1])
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("authentication failed")
			httputil.WriteAppError(w, err)
			return
		}

		ctx := contextkeys.WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor extracts the authenticated actor from the request, or nil
func GetActor(r *http.Request) *authz.Actor {
	actor, ok := r.Context().Value(contextkeys.ActorKey).(*authz.Actor)
	if !ok {
		return nil
	}
	return actor
}

// RequireAuth rejects requests that carry no authenticated actor. Used behind
// an optional AuthMiddleware to protect specific routes.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetActor(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMasterAdmin rejects requests from actors without the master admin flag
func RequireMasterAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := GetActor(r)
		if actor == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if err := authz.RequireMasterAdmin(actor); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
