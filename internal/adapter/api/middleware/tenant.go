package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// TenantResolver resolves the tenant pool of a verified identity.
type TenantResolver interface {
	Resolve(id domain.Identity) (domain.RoutedTenant, error)
}

// Tenant is the routing gatekeeper: it resolves the caller's tenant and
// attaches {pool, name, id} to the request context, or terminates the request.
// Must run after Auth.
func Tenant(resolver TenantResolver, logger *slog.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := domain.IdentityFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "missing_token", "")
				return
			}

			routed, err := resolver.Resolve(id)
			if err != nil {
				WriteRoutingError(w, err, devMode)
				return
			}

			annotateTenant(r.Context(), routed.Name)
			next.ServeHTTP(w, r.WithContext(domain.ContextWithTenant(r.Context(), routed)))
		})
	}
}

// WriteRoutingError maps a resolver error to its HTTP status and error code.
// Internal detail is only exposed in dev mode.
func WriteRoutingError(w http.ResponseWriter, err error, devMode bool) {
	switch {
	case errors.Is(err, domain.ErrTenantNotIdentified):
		respond.Error(w, http.StatusBadRequest, "tenant_not_identified", "re-authenticate to obtain a token with tenant context")
	case errors.Is(err, domain.ErrUnknownTenant):
		respond.Error(w, http.StatusBadRequest, "unknown_tenant", "re-authenticate to obtain a valid token")
	default:
		detail := ""
		if devMode {
			detail = err.Error()
		}
		respond.Error(w, http.StatusInternalServerError, "routing_failure", detail)
	}
}
