// Package httpserver exposes the engine's admin HTTP surface: health and
// Prometheus metrics endpoints, mounted behind go-chi the way the teacher's
// service entrypoints mount their own routers.
package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgraft/factengine/internal/metrics"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
)

// HealthChecker is satisfied by anything that can report the cache circuit
// breaker's current state; pkg/cache/resilient.Cache implements this
// implicitly via its CircuitBreakerState method.
type HealthChecker interface {
	CircuitBreakerState() circuitbreaker.State
}

// Config controls CORS and which collaborators the admin surface reports on.
type Config struct {
	AllowedOrigins []string
	DB             *sql.DB
	Health         HealthChecker
	Metrics        *metrics.Metrics
}

// New builds the admin router: GET /healthz (DB ping + circuit breaker
// state) and GET /metrics (Prometheus exposition).
func New(cfg Config) http.Handler {
	router := chi.NewRouter()

	allowed := cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet},
	}))

	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.HTTPMiddleware("/"))
	}

	router.Get("/healthz", healthzHandler(cfg))
	router.Handle("/metrics", promhttp.Handler())

	return router
}

type healthStatus struct {
	Status              string `json:"status"`
	DatabaseOK          bool   `json:"database_ok"`
	CircuitBreakerState string `json:"circuit_breaker_state"`
}

func healthzHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", DatabaseOK: true, CircuitBreakerState: "unknown"}

		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.PingContext(ctx); err != nil {
				status.DatabaseOK = false
				status.Status = "degraded"
			}
		}

		if cfg.Health != nil {
			state := cfg.Health.CircuitBreakerState()
			status.CircuitBreakerState = state.String()
			if state == circuitbreaker.StateOpen {
				status.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
