//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/schoolpulse/internal/adapter/api"
	"github.com/V4T54L/schoolpulse/internal/adapter/api/middleware"
	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/schoolpulse/internal/adapter/repository/redis"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/pkg/auth"
	"github.com/V4T54L/schoolpulse/internal/pkg/config"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// The suite runs against a real PostgreSQL server described by the standard
// PG* variables. SCHOOLPULSE_IT_PGHOST must be set; SCHOOLPULSE_IT_REDIS_URL
// additionally enables the cross-instance scenario.
const tenantsYAML = `
shared_store: true
shared:
  host: ${SCHOOLPULSE_IT_PGHOST}
  port: 5432
  database: ${PGDATABASE}
  user: ${PGUSER}
  password: ${PGPASSWORD}
  sslmode: disable
tenants:
  alpha: {id: 1}
  beta: {id: 2}
`

const (
	jwtSecret    = "integration-secret"
	serviceToken = "integration-service-token"
)

type instance struct {
	server   *httptest.Server
	hub      *usecase.SessionHub
	registry *usecase.TenantRegistry
}

func newInstance(t *testing.T, ctx context.Context, origin string, bus domain.EventBus) *instance {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	tenantCfg, err := config.ParseTenants([]byte(tenantsYAML))
	require.NoError(t, err)

	registry, err := usecase.NewTenantRegistry(tenantCfg, &postgres.Opener{ConnectTimeout: 5 * time.Second, Logger: log, Metrics: m}, log, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	hub := usecase.NewSessionHub(registry.Names(), usecase.HubConfig{Origin: origin}, bus, log, m)
	go func() { _ = hub.Run(ctx) }()

	cfg := &config.Config{CORSOrigins: "*", ServiceToken: serviceToken, MaxPublishSize: 1 << 20}
	router := api.NewRouter(cfg, log, api.Dependencies{
		Verifier:  auth.NewVerifier(jwtSecret, ""),
		Resolver:  usecase.NewTenantResolver(registry, log, m),
		Registry:  registry,
		Hub:       hub,
		Publisher: usecase.NewPublishEventUseCase(hub, log),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { hub.Shutdown() })
	return &instance{server: srv, hub: hub, registry: registry}
}

func token(t *testing.T, id domain.Identity) string {
	t.Helper()
	tok, err := auth.Issue(id, jwtSecret, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func publish(t *testing.T, inst *instance, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, inst.server.URL+"/internal/events", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ServiceTokenHeader, serviceToken)

	resp, err := inst.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func dial(t *testing.T, inst *instance, tok string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(inst.server.URL, "http") + "/ws?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func requireIntegrationEnv(t *testing.T) {
	if os.Getenv("SCHOOLPULSE_IT_PGHOST") == "" {
		t.Skip("SCHOOLPULSE_IT_PGHOST not set")
	}
}

func TestTenantRoutingFlow(t *testing.T) {
	requireIntegrationEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := newInstance(t, ctx, "it-1", nil)

	report := inst.registry.ProbeAtStartup(ctx)
	require.Len(t, report, 2)
	for name, h := range report {
		require.Equal(t, domain.StatusConnected, h.Status, "tenant %s: %s", name, h.Error)
	}

	tests := []struct {
		name           string
		tenant         domain.TenantRef
		expectedStatus int
		expectedTenant string
	}{
		{name: "by name", tenant: domain.TenantByName("beta"), expectedStatus: http.StatusOK, expectedTenant: "beta"},
		{name: "by legacy id", tenant: domain.TenantByID(1), expectedStatus: http.StatusOK, expectedTenant: "alpha"},
		{name: "unknown", tenant: domain.TenantByName("gamma"), expectedStatus: http.StatusBadRequest},
		{name: "missing", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := domain.Identity{UserID: 5, Role: domain.RoleStaffExpert, Tenant: tt.tenant}
			req, err := http.NewRequest(http.MethodGet, inst.server.URL+"/api/v1/tenant", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token(t, id))

			resp, err := inst.server.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedTenant == "" {
				return
			}
			var info struct {
				Tenant   string `json:"tenant"`
				Database string `json:"database"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
			assert.Equal(t, tt.expectedTenant, info.Tenant)
			assert.Equal(t, os.Getenv("PGDATABASE"), info.Database)
		})
	}
}

func TestCrossInstanceFanout(t *testing.T) {
	requireIntegrationEnv(t)
	redisURL := os.Getenv("SCHOOLPULSE_IT_REDIS_URL")
	if redisURL == "" {
		t.Skip("SCHOOLPULSE_IT_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	channel := "schoolpulse:it:" + time.Now().Format("150405.000")
	busA := redisrepo.NewEventBus(client, channel, log, nil)
	busB := redisrepo.NewEventBus(client, channel, log, nil)
	go busA.StartHealthCheck(ctx, time.Second)
	go busB.StartHealthCheck(ctx, time.Second)

	a := newInstance(t, ctx, "it-a", busA)
	b := newInstance(t, ctx, "it-b", busB)

	conn := dial(t, b, token(t, domain.Identity{UserID: 11, Role: domain.RoleParent, Tenant: domain.TenantByName("alpha")}))
	other := dial(t, b, token(t, domain.Identity{UserID: 11, Role: domain.RoleParent, Tenant: domain.TenantByName("beta")}))

	// the subscriber on b needs to be attached before a publishes
	time.Sleep(500 * time.Millisecond)
	publish(t, a, `{"tenant":"alpha","target":{"kind":"user","name":"11"},"event":"checkin","payload":{"mood":"ok"}}`)

	ev := readEvent(t, conn)
	assert.Equal(t, "checkin", ev.Name)
	assert.JSONEq(t, `{"mood":"ok"}`, string(ev.Payload))

	require.NoError(t, other.WriteJSON(map[string]string{"type": "test"}))
	assert.Equal(t, "test", readEvent(t, other).Name)
}
