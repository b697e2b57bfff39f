package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnichat-platform/omnichat/internal/database"
	mw "github.com/omnichat-platform/omnichat/internal/middleware"
	inats "github.com/omnichat-platform/omnichat/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Gateway handlers
	Invoke           http.HandlerFunc
	GetUsage         http.HandlerFunc
	GetUsageRollup   http.HandlerFunc
	ListAuditEntries http.HandlerFunc

	// Admin handlers
	ListFailures   http.HandlerFunc
	ApplyRateLimit http.HandlerFunc
	ClearRateLimit http.HandlerFunc
	SetActive      http.HandlerFunc
	SetLimits      http.HandlerFunc
	Purge          http.HandlerFunc

	// Auth middleware
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler

	// Remote model health probe
	ModelHealthy func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe: checks DB, NATS, and the remote model service
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
			"model":    "healthy",
		}

		status := http.StatusOK

		if pool != nil {
			if err := database.HealthCheck(r.Context(), pool); err != nil {
				health["database"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["database"] = "not configured"
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		if h.ModelHealthy != nil && !h.ModelHealthy() {
			health["model"] = "unhealthy"
			health["status"] = "degraded"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/ai", func(r chi.Router) {
				r.Get("/usage", h.GetUsage)
				r.Get("/usage/rollup", h.GetUsageRollup)
				r.Get("/audit", h.ListAuditEntries)
				r.Post("/{kind}", h.Invoke)
			})

			r.Route("/admin/ai", func(r chi.Router) {
				r.Use(h.AdminMiddleware)
				r.Get("/failures", h.ListFailures)
				r.Post("/audit/purge", h.Purge)

				r.Route("/users/{userID}", func(r chi.Router) {
					r.Post("/rate-limit", h.ApplyRateLimit)
					r.Delete("/rate-limit", h.ClearRateLimit)
					r.Put("/active", h.SetActive)
					r.Put("/limits", h.SetLimits)
				})
			})
		})
	})

	return r
}
