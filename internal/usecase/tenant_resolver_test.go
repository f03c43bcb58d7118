package usecase

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/domain/mocks"
)

func TestTenantResolver_Resolve(t *testing.T) {
	opener := &mocks.MockPoolOpener{}
	reg, err := NewTenantRegistry(alphaBetaConfig(false), opener, discardLogger(), nil)
	require.NoError(t, err)
	resolver := NewTenantResolver(reg, discardLogger(), nil)

	alphaPool, _ := reg.ResolveByName("alpha")
	betaPool, _ := reg.ResolveByName("beta")

	tests := []struct {
		name     string
		identity domain.Identity
		wantPool domain.Pool
		wantName string
		wantID   int64
		wantErr  error
	}{
		{
			name:     "name wins",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByName("beta")},
			wantPool: betaPool,
			wantName: "beta",
			wantID:   2,
		},
		{
			name:     "name wins over conflicting id",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByName("alpha").WithID(2)},
			wantPool: alphaPool,
			wantName: "alpha",
			wantID:   1,
		},
		{
			name:     "legacy id falls back",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByID(1)},
			wantPool: alphaPool,
			wantName: "alpha",
			wantID:   1,
		},
		{
			name:     "legacy alias id",
			identity: domain.Identity{UserID: 7, Role: domain.RoleStudent, Tenant: domain.TenantByID(12)},
			wantPool: betaPool,
			wantName: "beta",
			wantID:   2,
		},
		{
			name:     "unknown name",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByName("gamma")},
			wantErr:  domain.ErrUnknownTenant,
		},
		{
			name:     "unknown name does not fall back to id",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByName("gamma").WithID(1)},
			wantErr:  domain.ErrUnknownTenant,
		},
		{
			name:     "unknown id",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent, Tenant: domain.TenantByID(99)},
			wantErr:  domain.ErrUnknownTenant,
		},
		{
			name:     "no tenant context",
			identity: domain.Identity{UserID: 7, Role: domain.RoleParent},
			wantErr:  domain.ErrTenantNotIdentified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routed, err := resolver.Resolve(tt.identity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, routed.Pool)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.wantPool, routed.Pool)
			assert.Equal(t, tt.wantName, routed.Name)
			assert.Equal(t, tt.wantID, routed.ID)
		})
	}
}

type brokenLookup struct{ err error }

func (b brokenLookup) ResolveByName(string) (domain.Pool, error)      { return nil, b.err }
func (b brokenLookup) ResolveByID(int64) (domain.Pool, string, error) { return nil, "", b.err }
func (b brokenLookup) TenantID(string) int64                          { return 0 }

func TestTenantResolver_RoutingFailure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	tests := []struct {
		name   string
		lookup TenantLookup
	}{
		{name: "registry error", lookup: brokenLookup{err: errors.New("boom")}},
		{name: "registry closed", lookup: brokenLookup{err: domain.ErrRegistryClosed}},
		{name: "nil pool", lookup: brokenLookup{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewTenantResolver(tt.lookup, discardLogger(), m)
			_, err := resolver.Resolve(domain.Identity{UserID: 1, Tenant: domain.TenantByName("alpha")})
			assert.ErrorIs(t, err, domain.ErrRoutingFailure)
			assert.NotErrorIs(t, err, domain.ErrUnknownTenant)
		})
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RoutingTotal.WithLabelValues("failure")))
}

func TestTenantResolver_CountsOutcomes(t *testing.T) {
	reg, err := NewTenantRegistry(alphaBetaConfig(true), &mocks.MockPoolOpener{}, discardLogger(), nil)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	resolver := NewTenantResolver(reg, discardLogger(), m)

	_, _ = resolver.Resolve(domain.Identity{UserID: 1, Tenant: domain.TenantByName("alpha")})
	_, _ = resolver.Resolve(domain.Identity{UserID: 1, Tenant: domain.TenantByID(2)})
	_, _ = resolver.Resolve(domain.Identity{UserID: 1})
	_, _ = resolver.Resolve(domain.Identity{UserID: 1, Tenant: domain.TenantByName("nope")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingTotal.WithLabelValues("routed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingTotal.WithLabelValues("fallback_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingTotal.WithLabelValues("not_identified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingTotal.WithLabelValues("unknown_tenant")))
}
