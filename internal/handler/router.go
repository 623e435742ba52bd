package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"webgrave/internal/config"
	"webgrave/internal/util"
)

// HealthChecker reports whether the service's dependencies are reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handlers groups the route owners mounted under /api.
type Handlers struct {
	Auth      *AuthHandler
	Admin     *AdminHandler
	Memorials *MemorialHandler
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg *config.Config, h Handlers, health HealthChecker, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.Server.EnableTLS && cfg.IsProduction() {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	if cfg.RateLimit.GlobalPerMinute > 0 {
		router.Use(httprate.LimitByIP(cfg.RateLimit.GlobalPerMinute, time.Minute))
	}
	router.Use(ClientInfo)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]any{"status": "healthy", "service": cfg.ServiceName}
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := health.HealthCheck(ctx); err != nil {
				util.Warn("Health check failed", util.ErrorField(err))
				status, body = http.StatusServiceUnavailable, map[string]any{
					"status":  "unhealthy",
					"service": cfg.ServiceName,
					"error":   err.Error(),
				}
			}
		}
		respondWithJSON(w, status, body)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		if h.Auth != nil {
			h.Auth.RegisterRoutes(r)
		}
		if h.Admin != nil {
			h.Admin.RegisterRoutes(r)
		}
		if h.Memorials != nil {
			h.Memorials.RegisterRoutes(r)
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": "endpoint not found",
		})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"error":   "method_not_allowed",
			"message": "method not allowed",
		})
	})

	return router
}
