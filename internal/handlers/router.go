package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lifestream-ingest/internal/metrics"
	"lifestream-ingest/internal/middleware"
)

// HealthChecker reports whether storage is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers groups everything the router serves
type Handlers struct {
	APIKey      string
	Health      HealthChecker
	BulkSync    *BulkSyncHandler
	Limits      *LimitsHandler
	Retransform *RetransformHandler
	Ingest      *IngestHandler
}

// NewRouter wires the HTTP surface
func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/health", middleware.WrapHandler(metrics.EndpointHealth, h.handleHealth))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(h.APIKey))

		r.Route("/bulksync/{userID}", func(r chi.Router) {
			r.With(middleware.Metrics(metrics.EndpointBulkSyncStart)).Post("/start", h.BulkSync.HandleResume)
			r.With(middleware.Metrics(metrics.EndpointBulkSyncResume)).Post("/resume", h.BulkSync.HandleResume)
			r.With(middleware.Metrics(metrics.EndpointBulkSyncStatus)).Get("/status", h.BulkSync.HandleStatus)
			r.With(middleware.Metrics(metrics.EndpointBulkSyncReset)).Delete("/", h.BulkSync.HandleReset)
		})

		r.With(middleware.Metrics(metrics.EndpointLimits)).Get("/limits", h.Limits.HandleLimits)
		r.With(middleware.Metrics(metrics.EndpointRetransform)).Post("/retransform", h.Retransform.HandleRetransform)
		r.With(middleware.Metrics(metrics.EndpointIngest)).Get("/ingest/{userID}", h.Ingest.HandleIngest)
	})

	return r
}

func (h Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.Health.Health(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
