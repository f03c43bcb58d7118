package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// TenantDirectory is the read-only view of the tenant registry used by the admin API.
type TenantDirectory interface {
	Names() []string
	Shared() bool
	TenantID(name string) int64
	HealthCheck(ctx context.Context) map[string]domain.TenantHealth
}

// SessionStats reports live registry sizes per tenant scope.
type SessionStats interface {
	Stats() map[string]usecase.RegistryStats
}

// BusStatus reports cross-instance bus connectivity.
type BusStatus interface {
	Available() bool
}

// TenantSummary is one row of GET /admin/tenants.
type TenantSummary struct {
	Name   string              `json:"name"`
	ID     int64               `json:"id,omitempty"`
	Health domain.TenantHealth `json:"health"`
}

// AdminHandler handles HTTP requests for operational inspection.
type AdminHandler struct {
	tenants  TenantDirectory
	sessions SessionStats
	bus      BusStatus // nil when cross-instance fan-out is disabled
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. bus may be nil.
func NewAdminHandler(tenants TenantDirectory, sessions SessionStats, bus BusStatus, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{tenants: tenants, sessions: sessions, bus: bus, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetTenants lists configured tenants with their current store health.
// GET /admin/tenants
func (h *AdminHandler) GetTenants(w http.ResponseWriter, r *http.Request) {
	report := h.tenants.HealthCheck(r.Context())

	names := h.tenants.Names()
	rows := make([]TenantSummary, 0, len(names))
	for _, name := range names {
		rows = append(rows, TenantSummary{Name: name, ID: h.tenants.TenantID(name), Health: report[name]})
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"shared_store": h.tenants.Shared(),
		"tenants":      rows,
	})
}

// GetSessions reports live session counts per tenant scope.
// GET /admin/sessions
func (h *AdminHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"scopes": h.sessions.Stats()}
	if h.bus != nil {
		body["bus_available"] = h.bus.Available()
	}
	respond.JSON(w, http.StatusOK, body)
}
