package domain

import (
	"context"
	"database/sql"
	"time"
)

// ConnParams holds the connection and pool-sizing parameters of one backing store.
type ConnParams struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Tenant identifies one school organization.
type Tenant struct {
	Name   string
	ID     int64
	Params ConnParams
}

// TenantConfig is the full, static tenant set supplied at startup.
type TenantConfig struct {
	Tenants     []Tenant
	Aliases     map[int64]string // extra legacy ids, on top of each Tenant.ID
	SharedStore bool
	Shared      ConnParams // used for every tenant when SharedStore is set
}

// RowsFunc consumes the rows of a query. The rows are closed by the caller of the func.
type RowsFunc func(*sql.Rows) error

// Pool is a reusable set of connections to one backing store.
type Pool interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, fn RowsFunc, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// PoolOpener creates a pool for a set of connection parameters.
type PoolOpener interface {
	Open(name string, params ConnParams) (Pool, error)
}

// HealthStatus is the liveness of a tenant's store.
type HealthStatus string

const (
	StatusConnected HealthStatus = "connected"
	StatusError     HealthStatus = "error"
)

// TenantHealth is the per-tenant entry of the health report.
type TenantHealth struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// RoutedTenant is what the tenant resolver attaches to a request.
type RoutedTenant struct {
	Pool Pool
	Name string
	ID   int64
}

type routedTenantKey struct{}

// ContextWithTenant attaches a routed tenant to ctx.
func ContextWithTenant(ctx context.Context, t RoutedTenant) context.Context {
	return context.WithValue(ctx, routedTenantKey{}, t)
}

// TenantFromContext returns the routed tenant, if the request was routed.
func TenantFromContext(ctx context.Context) (RoutedTenant, bool) {
	t, ok := ctx.Value(routedTenantKey{}).(RoutedTenant)
	return t, ok && t.Pool != nil
}
