package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/domain/mocks"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

type fixedBus bool

func (b fixedBus) Available() bool { return bool(b) }

func newRegistryWithOpener(t *testing.T, opener *mocks.MockPoolOpener) *usecase.TenantRegistry {
	t.Helper()
	reg, err := usecase.NewTenantRegistry(domain.TenantConfig{
		Tenants: []domain.Tenant{
			{Name: "alpha", ID: 1, Params: domain.ConnParams{Host: "a"}},
			{Name: "beta", ID: 2, Params: domain.ConnParams{Host: "b"}},
		},
	}, opener, discardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestHealthHandler_Tenants(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        map[string]error
		expectedStatus int
	}{
		{name: "all connected", expectedStatus: http.StatusOK},
		{name: "one store down", pingErr: map[string]error{"beta": errors.New("refused")}, expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistryWithOpener(t, &mocks.MockPoolOpener{PingErr: tt.pingErr})
			rr := httptest.NewRecorder()
			NewHealthHandler(reg).Tenants(rr, httptest.NewRequest(http.MethodGet, "/health/tenants", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var report map[string]domain.TenantHealth
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
			assert.Len(t, report, 2)
			assert.Equal(t, domain.StatusConnected, report["alpha"].Status)
		})
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(nil).Liveness(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAdminHandler(t *testing.T) {
	reg := newRegistryWithOpener(t, &mocks.MockPoolOpener{})
	hub := usecase.NewSessionHub(reg.Names(), usecase.HubConfig{}, nil, discardLogger(), nil)
	alpha, _ := hub.Scope("alpha")
	alpha.Registry.Register("S1", domain.OwnerFromIdentity(alphaParent))

	t.Run("tenants", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewAdminHandler(reg, hub, nil, discardLogger()).GetTenants(rr, httptest.NewRequest(http.MethodGet, "/admin/tenants", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			SharedStore bool            `json:"shared_store"`
			Tenants     []TenantSummary `json:"tenants"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.False(t, body.SharedStore)
		require.Len(t, body.Tenants, 2)
		assert.Equal(t, "alpha", body.Tenants[0].Name)
		assert.Equal(t, int64(1), body.Tenants[0].ID)
		assert.Equal(t, domain.StatusConnected, body.Tenants[0].Health.Status)
	})

	t.Run("sessions", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewAdminHandler(reg, hub, fixedBus(true), discardLogger()).GetSessions(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Scopes       map[string]usecase.RegistryStats `json:"scopes"`
			BusAvailable *bool                            `json:"bus_available"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Scopes["alpha"].Sessions)
		assert.Equal(t, 0, body.Scopes["anonymous"].Sessions)
		require.NotNil(t, body.BusAvailable)
		assert.True(t, *body.BusAvailable)
	})
}
