package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

const tenantQueryTimeout = 10 * time.Second

// TenantInfo is the response body of GET /api/v1/tenant.
type TenantInfo struct {
	Tenant   string `json:"tenant"`
	TenantID int64  `json:"tenant_id,omitempty"`
	Database string `json:"database"`
	UserID   int64  `json:"user_id"`
	Role     string `json:"role"`
}

// TenantHandler reports which store a request was routed to.
type TenantHandler struct {
	logger  *slog.Logger
	devMode bool
}

// NewTenantHandler creates a new TenantHandler.
func NewTenantHandler(logger *slog.Logger, devMode bool) *TenantHandler {
	return &TenantHandler{logger: logger.With("component", "tenant_handler"), devMode: devMode}
}

// ServeHTTP handles GET /api/v1/tenant. It must run behind the tenant middleware.
func (h *TenantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routed, ok := domain.TenantFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusInternalServerError, "routing_failure", "")
		return
	}
	id, _ := domain.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), tenantQueryTimeout)
	defer cancel()

	var database string
	err := routed.Pool.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return sql.ErrNoRows
		}
		return rows.Scan(&database)
	}, "SELECT current_database()")
	if err != nil {
		h.writeQueryError(w, routed.Name, err)
		return
	}

	respond.JSON(w, http.StatusOK, TenantInfo{
		Tenant:   routed.Name,
		TenantID: routed.ID,
		Database: database,
		UserID:   id.UserID,
		Role:     string(id.Role),
	})
}

func (h *TenantHandler) writeQueryError(w http.ResponseWriter, tenant string, err error) {
	if errors.Is(err, domain.ErrPoolTimeout) {
		h.logger.Warn("tenant store busy", "tenant", tenant, "error", err)
		respond.Error(w, http.StatusServiceUnavailable, "pool_timeout", "")
		return
	}
	h.logger.Error("tenant query failed", "tenant", tenant, "error", err)
	detail := ""
	if h.devMode {
		detail = err.Error()
	}
	respond.Error(w, http.StatusInternalServerError, "query_failed", detail)
}
