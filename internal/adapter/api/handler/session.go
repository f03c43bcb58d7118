package handler

import (
	"fmt"
	"net/http"

	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// TenantResolver resolves the tenant of a verified identity.
type TenantResolver interface {
	Resolve(id domain.Identity) (domain.RoutedTenant, error)
}

// sessionBinder picks the registry scope and owner of a new live session.
type sessionBinder struct {
	hub      *usecase.SessionHub
	resolver TenantResolver
}

// bind returns the anonymous scope for requests without an identity, and
// the caller's tenant scope otherwise.
func (b sessionBinder) bind(r *http.Request) (*usecase.Scope, domain.SessionOwner, error) {
	id, ok := domain.IdentityFromContext(r.Context())
	if !ok {
		return b.hub.Anonymous(), domain.SessionOwner{}, nil
	}

	routed, err := b.resolver.Resolve(id)
	if err != nil {
		return nil, domain.SessionOwner{}, err
	}
	scope, ok := b.hub.Scope(routed.Name)
	if !ok {
		return nil, domain.SessionOwner{}, fmt.Errorf("%w: no session scope for tenant %q", domain.ErrRoutingFailure, routed.Name)
	}
	return scope, domain.OwnerFromIdentity(id), nil
}
