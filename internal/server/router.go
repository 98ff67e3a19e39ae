package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/inferguard/internal/api"
	mw "github.com/aiox-platform/inferguard/internal/middleware"
	iredis "github.com/aiox-platform/inferguard/internal/redis"
)

// HandlerSet holds handler functions injected from main.go.
type HandlerSet struct {
	// Session sentiment handlers
	ListSentiments  http.HandlerFunc
	AnalyzeMessage  http.HandlerFunc
	ClearSentiments http.HandlerFunc

	// Governance handlers
	GetQuota       http.HandlerFunc
	ListUsage      http.HandlerFunc
	CheckAdmission http.HandlerFunc

	// Admin handlers
	InvalidateCache      http.HandlerFunc
	InvalidateCacheScope http.HandlerFunc
}

// HealthChecker is satisfied by the NATS client.
type HealthChecker interface {
	Healthy() bool
}

// RouterConfig holds configuration for the router. Nil dependencies are
// reported as "not configured" by the readiness check.
type RouterConfig struct {
	CORSAllowedOrigins []string
	APIRateLimiter     func(http.Handler) http.Handler
	AdminMiddleware    func(http.Handler) http.Handler

	Redis               redis.Cmdable
	NATS                HealthChecker
	SentimentConfigured func() bool
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readiness := readinessHandler(cfg)
	r.Get("/health/ready", readiness)
	r.Get("/health", readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.APIRateLimiter != nil {
				r.Use(cfg.APIRateLimiter)
			}

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/sentiments", h.ListSentiments)
				r.Delete("/sentiments", h.ClearSentiments)
				r.Post("/messages", h.AnalyzeMessage)
			})

			r.Route("/governance", func(r chi.Router) {
				r.Get("/quota", h.GetQuota)
				r.Get("/usage", h.ListUsage)
				r.Get("/admission", h.CheckAdmission)
			})
		})

		if cfg.AdminMiddleware != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(cfg.AdminMiddleware)
				r.Delete("/cache", h.InvalidateCache)
				r.Delete("/cache/scopes/{token}", h.InvalidateCacheScope)
			})
		}
	})

	return r
}

func readinessHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":    "healthy",
			"redis":     "healthy",
			"nats":      "healthy",
			"sentiment": "configured",
		}
		status := http.StatusOK

		degrade := func(component, state string) {
			health[component] = state
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if cfg.Redis == nil {
			health["redis"] = "not configured"
		} else if err := iredis.HealthCheck(r.Context(), cfg.Redis); err != nil {
			degrade("redis", "unhealthy")
		}

		if cfg.NATS == nil {
			health["nats"] = "not configured"
		} else if !cfg.NATS.Healthy() {
			degrade("nats", "unhealthy")
		}

		// Reported only; does not fail readiness.
		if cfg.SentimentConfigured == nil || !cfg.SentimentConfigured() {
			health["sentiment"] = "not configured"
		}

		api.JSON(w, status, health)
	}
}
