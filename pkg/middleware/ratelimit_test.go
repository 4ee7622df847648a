package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockhaven/tenantd/pkg/authz"
	"github.com/lockhaven/tenantd/pkg/contextkeys"
)

func requestWithActor(r *http.Request, actor *authz.Actor) *http.Request {
	return r.WithContext(contextkeys.WithActor(r.Context(), actor))
}

func newTestRedis(t *testing.T) *redis.Client {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("user:1"), "request %d should be allowed", i)
	}
	assert.False(t, limiter.Allow("user:1"))

	// Other keys are unaffected.
	assert.True(t, limiter.Allow("user:2"))
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "ratelimit:test")
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, limiter.Reset(ctx, "user:1"))
	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	limiter := NewDistributedRateLimiter(client, nil, "")

	srv.Close()

	allowed, err := limiter.Allow(context.Background(), "user:1")
	require.Error(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	client := newTestRedis(t)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows and sets headers", func(t *testing.T) {
		mw := NewDistributedRateLimitMiddleware(client, nil)
		req := requestWithActor(httptest.NewRequest(http.MethodGet, "/tenants/acme", nil), &authz.Actor{ID: 42})
		rec := httptest.NewRecorder()

		mw.Handler(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1000", rec.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("master admins use the admin tier", func(t *testing.T) {
		mw := NewDistributedRateLimitMiddleware(client, nil)
		req := requestWithActor(httptest.NewRequest(http.MethodGet, "/admin/tenants", nil), &authz.Actor{ID: 1, IsMasterAdmin: true})
		rec := httptest.NewRecorder()

		mw.Handler(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5000", rec.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("returns 429 when exhausted", func(t *testing.T) {
		mw := NewDistributedRateLimitMiddleware(client, nil)
		mw.anonymousLimiter = NewDistributedRateLimiter(client, &RateLimitConfig{
			RequestsPerWindow: 1,
			WindowDuration:    time.Minute,
		}, "ratelimit:anon-tight")

		req := httptest.NewRequest(http.MethodGet, "/tenants/acme", nil)
		req.RemoteAddr = "203.0.113.9:51234"

		rec := httptest.NewRecorder()
		mw.Handler(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		mw.Handler(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("fails open when redis is down", func(t *testing.T) {
		srv := miniredis.RunT(t)
		downClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		mw := NewDistributedRateLimitMiddleware(downClient, nil)
		srv.Close()

		req := httptest.NewRequest(http.MethodGet, "/tenants/acme", nil)
		rec := httptest.NewRecorder()
		mw.Handler(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("fails closed when fallback disabled", func(t *testing.T) {
		srv := miniredis.RunT(t)
		downClient := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		mw := NewDistributedRateLimitMiddleware(downClient, nil)
		mw.SetFallbackEnabled(false)
		srv.Close()

		req := httptest.NewRequest(http.MethodGet, "/tenants/acme", nil)
		rec := httptest.NewRecorder()
		mw.Handler(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:40000"
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.7")
	assert.Equal(t, "203.0.113.1", getClientIP(req))
}
