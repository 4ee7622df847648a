package api

import (
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/auth"
	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/contextkeys"
	"github.com/lockhaven/tenantd/pkg/httputil"
	"github.com/lockhaven/tenantd/pkg/middleware"
	"github.com/lockhaven/tenantd/pkg/observability"
	"github.com/lockhaven/tenantd/pkg/tenants"
	"github.com/lockhaven/tenantd/pkg/users"
)

// Config carries the server's collaborators
type Config struct {
	TenantService *tenants.PostgresService
	UserService   *users.PostgresService
	Recorder      *audit.Recorder
	Authenticator auth.Authenticator
	Logger        *observability.Logger
	Metrics       *observability.Metrics

	// Redis enables distributed rate limiting; nil falls back to in-process
	Redis *redis.Client

	// Tracing enables otelhttp instrumentation around the router
	Tracing bool

	InvitationTTL time.Duration
}

// Server is the assembled HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and middleware chain
func NewServer(cfg Config) *Server {
	router := mux.NewRouter()

	gate := authz.NewGate(cfg.TenantService)

	tenants.NewHandlers(cfg.TenantService, gate, cfg.InvitationTTL).RegisterRoutes(router)
	users.NewHandlers(cfg.UserService).RegisterRoutes(router)
	audit.NewHandlers(cfg.Recorder).RegisterRoutes(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	authMW := middleware.NewAuthMiddleware(cfg.Authenticator, false)

	var rateLimit func(http.Handler) http.Handler
	if cfg.Redis != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(cfg.Redis, cfg.Metrics).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	// Outermost first: request id, logging, recovery, metrics, then
	// authentication and rate limiting (limits are keyed per actor).
	chain := []func(http.Handler) http.Handler{
		middleware.RequestIDMiddleware,
		loggerInjector(cfg.Logger),
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
	}
	if cfg.Metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	chain = append(chain, authMW.Handler, rateLimit, httputil.ContentTypeMiddleware)

	handler := httputil.Chain(chain...)(router)
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "tenantd.http",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}

	return &Server{router: router, handler: handler}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// loggerInjector places the base logger on every request context so
// downstream code can enrich it with the request id.
func loggerInjector(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger != nil {
				r = r.WithContext(contextkeys.WithLogger(r.Context(), logger))
			}
			next.ServeHTTP(w, r)
		})
	}
}
