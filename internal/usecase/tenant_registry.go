package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

const (
	sharedPoolName      = "shared"
	defaultProbeTimeout = 5 * time.Second
	maxConcurrentProbes = 8
)

// storePool is one distinct backing store and the tenant names routed to it.
type storePool struct {
	name    string
	pool    domain.Pool
	tenants []string
}

type tenantEntry struct {
	tenant domain.Tenant
	store  *storePool
}

// TenantRegistry owns one connection pool per distinct backing store and
// resolves tenants by name or legacy id. The maps are built once in
// NewTenantRegistry and never mutated afterwards, so lookups take no lock.
type TenantRegistry struct {
	byName map[string]*tenantEntry
	byID   map[int64]string
	stores []*storePool
	shared bool

	logger       *slog.Logger
	metrics      *metrics.Metrics
	probeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewTenantRegistry validates the tenant set and opens its pools.
func NewTenantRegistry(cfg domain.TenantConfig, opener domain.PoolOpener, logger *slog.Logger, m *metrics.Metrics) (*TenantRegistry, error) {
	if len(cfg.Tenants) == 0 {
		return nil, errors.New("tenant registry: no tenants configured")
	}

	r := &TenantRegistry{
		byName:       make(map[string]*tenantEntry, len(cfg.Tenants)),
		byID:         make(map[int64]string, len(cfg.Tenants)+len(cfg.Aliases)),
		shared:       cfg.SharedStore,
		logger:       logger.With("component", "tenant_registry"),
		metrics:      m,
		probeTimeout: defaultProbeTimeout,
	}

	for _, t := range cfg.Tenants {
		if t.Name == "" {
			return nil, errors.New("tenant registry: tenant with empty name")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("tenant registry: duplicate tenant name %q", t.Name)
		}
		r.byName[t.Name] = &tenantEntry{tenant: t}
		if err := r.addAlias(t.ID, t.Name); err != nil {
			return nil, err
		}
	}
	for id, name := range cfg.Aliases {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("tenant registry: alias %d points to unconfigured tenant %q", id, name)
		}
		if err := r.addAlias(id, name); err != nil {
			return nil, err
		}
	}

	if err := r.openStores(cfg, opener); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *TenantRegistry) addAlias(id int64, name string) error {
	if id == 0 {
		return nil
	}
	if existing, ok := r.byID[id]; ok && existing != name {
		return fmt.Errorf("tenant registry: id %d maps to both %q and %q", id, existing, name)
	}
	r.byID[id] = name
	return nil
}

func (r *TenantRegistry) openStores(cfg domain.TenantConfig, opener domain.PoolOpener) error {
	names := r.Names()

	if cfg.SharedStore {
		p, err := opener.Open(sharedPoolName, cfg.Shared)
		if err != nil {
			return fmt.Errorf("tenant registry: open shared pool: %w", err)
		}
		store := &storePool{name: sharedPoolName, pool: p, tenants: names}
		r.stores = append(r.stores, store)
		for _, name := range names {
			r.byName[name].store = store
		}
		return nil
	}

	for _, name := range names {
		entry := r.byName[name]
		p, err := opener.Open(name, entry.tenant.Params)
		if err != nil {
			return fmt.Errorf("tenant registry: open pool for %s: %w", name, err)
		}
		entry.store = &storePool{name: name, pool: p, tenants: []string{name}}
		r.stores = append(r.stores, entry.store)
	}
	return nil
}

// Names returns the configured tenant names in sorted order.
func (r *TenantRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shared reports whether all tenants share one backing store.
func (r *TenantRegistry) Shared() bool { return r.shared }

// ResolveByName returns the pool of a configured tenant.
func (r *TenantRegistry) ResolveByName(name string) (domain.Pool, error) {
	if r.closed.Load() {
		return nil, domain.ErrRegistryClosed
	}
	entry, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTenant, name)
	}
	return entry.store.pool, nil
}

// ResolveByID maps a legacy tenant id to its name, then resolves the pool.
func (r *TenantRegistry) ResolveByID(id int64) (domain.Pool, string, error) {
	name, ok := r.byID[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: id %d", domain.ErrUnknownTenant, id)
	}
	p, err := r.ResolveByName(name)
	if err != nil {
		return nil, "", err
	}
	return p, name, nil
}

// TenantID returns the primary numeric id of a tenant, 0 if it has none.
func (r *TenantRegistry) TenantID(name string) int64 {
	if entry, ok := r.byName[name]; ok {
		return entry.tenant.ID
	}
	return 0
}

// HealthCheck probes every distinct pool once and reports the result under
// each tenant name routed to that pool.
func (r *TenantRegistry) HealthCheck(ctx context.Context) map[string]domain.TenantHealth {
	results := make([]domain.TenantHealth, len(r.stores))

	p := pool.New().WithMaxGoroutines(maxConcurrentProbes)
	for i, store := range r.stores {
		p.Go(func() {
			results[i] = r.probe(ctx, store)
		})
	}
	p.Wait()

	report := make(map[string]domain.TenantHealth, len(r.byName))
	for i, store := range r.stores {
		for _, name := range store.tenants {
			report[name] = results[i]
			if r.metrics != nil {
				up := 0.0
				if results[i].Status == domain.StatusConnected {
					up = 1
				}
				r.metrics.TenantUp.WithLabelValues(name).Set(up)
			}
		}
	}
	return report
}

func (r *TenantRegistry) probe(ctx context.Context, store *storePool) domain.TenantHealth {
	if r.closed.Load() {
		return domain.TenantHealth{Status: domain.StatusError, Timestamp: time.Now().UTC(), Error: domain.ErrRegistryClosed.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	err := store.pool.Ping(ctx)
	h := domain.TenantHealth{Status: domain.StatusConnected, Timestamp: time.Now().UTC()}
	if err != nil {
		h.Status = domain.StatusError
		h.Error = err.Error()
	}
	return h
}

// ProbeAtStartup runs one liveness probe per distinct pool and logs the
// outcome. A failed probe leaves the process running in degraded mode.
func (r *TenantRegistry) ProbeAtStartup(ctx context.Context) map[string]domain.TenantHealth {
	report := r.HealthCheck(ctx)
	for _, store := range r.stores {
		h := report[store.tenants[0]]
		if h.Status == domain.StatusConnected {
			r.logger.Info("tenant store reachable", "pool", store.name, "tenants", store.tenants)
			continue
		}
		r.logger.Error("tenant store unreachable, continuing in degraded mode",
			"pool", store.name, "tenants", store.tenants, "error", h.Error)
	}
	return report
}

// Close closes every distinct pool exactly once. Later calls return the first result.
func (r *TenantRegistry) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		var errs []error
		for _, store := range r.stores {
			if err := store.pool.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close pool %s: %w", store.name, err))
				continue
			}
			r.logger.Info("closed pool", "pool", store.name)
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
