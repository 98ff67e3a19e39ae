package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHealth bool

func (h staticHealth) Healthy() bool { return bool(h) }

func named(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", name)
		w.WriteHeader(http.StatusOK)
	}
}

func testHandlers() HandlerSet {
	return HandlerSet{
		ListSentiments:       named("list-sentiments"),
		AnalyzeMessage:       named("analyze-message"),
		ClearSentiments:      named("clear-sentiments"),
		GetQuota:             named("get-quota"),
		ListUsage:            named("list-usage"),
		CheckAdmission:       named("check-admission"),
		InvalidateCache:      named("invalidate-cache"),
		InvalidateCacheScope: named("invalidate-cache-scope"),
	}
}

func readHealth(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Data
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(RouterConfig{
		AdminMiddleware: func(next http.Handler) http.Handler { return next },
	}, testHandlers())

	cases := []struct {
		method, target, handler string
	}{
		{http.MethodGet, "/api/v1/sessions/abc/sentiments", "list-sentiments"},
		{http.MethodDelete, "/api/v1/sessions/abc/sentiments", "clear-sentiments"},
		{http.MethodPost, "/api/v1/sessions/abc/messages", "analyze-message"},
		{http.MethodGet, "/api/v1/governance/quota", "get-quota"},
		{http.MethodGet, "/api/v1/governance/usage", "list-usage"},
		{http.MethodGet, "/api/v1/governance/admission", "check-admission"},
		{http.MethodDelete, "/api/v1/admin/cache", "invalidate-cache"},
		{http.MethodDelete, "/api/v1/admin/cache/scopes/therapist-42", "invalidate-cache-scope"},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.handler, rec.Header().Get("X-Handler"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_AdminRoutesAbsentWithoutMiddleware(t *testing.T) {
	router := NewRouter(RouterConfig{}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/cache", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AdminMiddlewareApplied(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := NewRouter(RouterConfig{AdminMiddleware: deny}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/cache", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/governance/quota", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimiterWrapsAPIOnly(t *testing.T) {
	limited := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := NewRouter(RouterConfig{APIRateLimiter: limited}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/governance/quota", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readiness(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		router := NewRouter(RouterConfig{}, testHandlers())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		health := readHealth(t, rec)
		assert.Equal(t, "healthy", health["status"])
		assert.Equal(t, "not configured", health["redis"])
		assert.Equal(t, "not configured", health["nats"])
		assert.Equal(t, "not configured", health["sentiment"])
	})

	t.Run("all healthy", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		router := NewRouter(RouterConfig{
			Redis:               client,
			NATS:                staticHealth(true),
			SentimentConfigured: func() bool { return true },
		}, testHandlers())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		health := readHealth(t, rec)
		assert.Equal(t, "healthy", health["redis"])
		assert.Equal(t, "healthy", health["nats"])
		assert.Equal(t, "configured", health["sentiment"])
	})

	t.Run("redis down and nats disconnected", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		mr.Close()

		router := NewRouter(RouterConfig{Redis: client, NATS: staticHealth(false)}, testHandlers())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		health := readHealth(t, rec)
		assert.Equal(t, "degraded", health["status"])
		assert.Equal(t, "unhealthy", health["redis"])
		assert.Equal(t, "unhealthy", health["nats"])
	})
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := NewRouter(RouterConfig{}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
