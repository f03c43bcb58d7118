package handler

import (
	"context"
	"net/http"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// TenantHealthChecker probes the tenant stores.
type TenantHealthChecker interface {
	HealthCheck(ctx context.Context) map[string]domain.TenantHealth
}

// HealthHandler serves liveness and per-tenant store health.
type HealthHandler struct {
	checker TenantHealthChecker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker TenantHealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Liveness is a simple health check endpoint.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Tenants reports {tenant: {status, timestamp, error}}; 503 if any store is unreachable.
func (h *HealthHandler) Tenants(w http.ResponseWriter, r *http.Request) {
	report := h.checker.HealthCheck(r.Context())

	code := http.StatusOK
	for _, status := range report {
		if status.Status != domain.StatusConnected {
			code = http.StatusServiceUnavailable
			break
		}
	}
	respond.JSON(w, code, report)
}
