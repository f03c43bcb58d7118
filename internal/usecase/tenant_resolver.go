package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// TenantLookup is the part of the tenant registry the resolver depends on.
type TenantLookup interface {
	ResolveByName(name string) (domain.Pool, error)
	ResolveByID(id int64) (domain.Pool, string, error)
	TenantID(name string) int64
}

// TenantResolver decides which tenant pool serves a verified identity.
type TenantResolver struct {
	lookup  TenantLookup
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTenantResolver creates a new TenantResolver.
func NewTenantResolver(lookup TenantLookup, logger *slog.Logger, m *metrics.Metrics) *TenantResolver {
	return &TenantResolver{
		lookup:  lookup,
		logger:  logger.With("component", "tenant_resolver"),
		metrics: m,
	}
}

// Resolve applies the routing order: tenant name, then legacy tenant id.
// A name that is present but unknown fails without trying the id.
// Errors are always one of ErrTenantNotIdentified, ErrUnknownTenant or ErrRoutingFailure.
func (r *TenantResolver) Resolve(id domain.Identity) (domain.RoutedTenant, error) {
	if name, ok := id.Tenant.Name(); ok {
		p, err := r.lookup.ResolveByName(name)
		if err != nil {
			return domain.RoutedTenant{}, r.fail(id, err)
		}
		if p == nil {
			return domain.RoutedTenant{}, r.fail(id, errors.New("registry returned no pool"))
		}
		tenantID, _ := id.Tenant.ID()
		if known := r.lookup.TenantID(name); known != 0 {
			tenantID = known
		}
		r.count("routed")
		return domain.RoutedTenant{Pool: p, Name: name, ID: tenantID}, nil
	}

	if tenantID, ok := id.Tenant.ID(); ok {
		p, name, err := r.lookup.ResolveByID(tenantID)
		if err != nil {
			return domain.RoutedTenant{}, r.fail(id, err)
		}
		if p == nil {
			return domain.RoutedTenant{}, r.fail(id, errors.New("registry returned no pool"))
		}
		r.logger.Debug("routed via legacy tenant id", "user_id", id.UserID, "tenant_id", tenantID, "tenant", name)
		r.count("fallback_id")
		// aliases resolve to the tenant's canonical id
		if known := r.lookup.TenantID(name); known != 0 {
			tenantID = known
		}
		return domain.RoutedTenant{Pool: p, Name: name, ID: tenantID}, nil
	}

	r.count("not_identified")
	return domain.RoutedTenant{}, domain.ErrTenantNotIdentified
}

func (r *TenantResolver) fail(id domain.Identity, err error) error {
	if errors.Is(err, domain.ErrUnknownTenant) {
		r.count("unknown_tenant")
		r.logger.Warn("identity references unconfigured tenant", "user_id", id.UserID, "error", err)
		return err
	}
	r.count("failure")
	r.logger.Error("tenant routing failed", "user_id", id.UserID, "error", err)
	return fmt.Errorf("%w: %w", domain.ErrRoutingFailure, err)
}

func (r *TenantResolver) count(outcome string) {
	if r.metrics != nil {
		r.metrics.RoutingTotal.WithLabelValues(outcome).Inc()
	}
}
