package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/handler"
)

// NewAdminRouter creates and configures the HTTP router for admin operations and metrics.
func NewAdminRouter(
	tenants handler.TenantDirectory,
	sessions handler.SessionStats,
	bus handler.BusStatus,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	adminHandler := handler.NewAdminHandler(tenants, sessions, bus, logger)

	r.Get("/health", adminHandler.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/admin/tenants", adminHandler.GetTenants)
	r.Get("/admin/sessions", adminHandler.GetSessions)

	return r
}
