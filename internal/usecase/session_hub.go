package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

const (
	// AnonymousScope holds sessions opened without a verified identity.
	AnonymousScope = ""

	defaultOutboxSize     = 1024
	defaultPublishTimeout = 2 * time.Second
)

// Scope is the live registry and fan-out of one tenant.
type Scope struct {
	Tenant   string
	Registry *LiveRegistry
	Fanout   *Fanout
}

// HubConfig tunes a SessionHub.
type HubConfig struct {
	Origin        string // unique id of this instance on the event bus
	SessionBuffer int
	OutboxSize    int
}

// SessionHub keeps one Scope per tenant so that user and role groups never
// span tenants, and bridges local fan-out to other instances through an
// optional EventBus.
type SessionHub struct {
	scopes map[string]*Scope // built once, read without locking
	origin string
	bus    domain.EventBus
	outbox chan domain.Envelope

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSessionHub creates scopes for every tenant plus the anonymous scope. bus may be nil.
func NewSessionHub(tenants []string, cfg HubConfig, bus domain.EventBus, logger *slog.Logger, m *metrics.Metrics) *SessionHub {
	outboxSize := cfg.OutboxSize
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}

	h := &SessionHub{
		scopes:  make(map[string]*Scope, len(tenants)+1),
		origin:  cfg.Origin,
		bus:     bus,
		outbox:  make(chan domain.Envelope, outboxSize),
		logger:  logger.With("component", "session_hub"),
		metrics: m,
	}

	for _, tenant := range append([]string{AnonymousScope}, tenants...) {
		registry := NewLiveRegistry(cfg.SessionBuffer)
		if m != nil {
			gauge := m.LiveSessions.WithLabelValues(scopeLabel(tenant))
			registry.onSize = func(n int) { gauge.Set(float64(n)) }
		}
		fanout := NewFanout(registry, tenant, logger, m)
		if bus != nil {
			fanout.forward = h.forward
		}
		h.scopes[tenant] = &Scope{Tenant: tenant, Registry: registry, Fanout: fanout}
	}
	return h
}

// Scope returns the scope of a configured tenant.
func (h *SessionHub) Scope(tenant string) (*Scope, bool) {
	s, ok := h.scopes[tenant]
	return s, ok
}

// Anonymous returns the scope for sessions without tenant context.
func (h *SessionHub) Anonymous() *Scope { return h.scopes[AnonymousScope] }

// Stats reports registry sizes per scope.
func (h *SessionHub) Stats() map[string]RegistryStats {
	out := make(map[string]RegistryStats, len(h.scopes))
	for tenant, s := range h.scopes {
		out[scopeLabel(tenant)] = s.Registry.Stats()
	}
	return out
}

// Shutdown unregisters every live session so transports close their connections.
func (h *SessionHub) Shutdown() int {
	n := 0
	for _, s := range h.scopes {
		n += s.Registry.UnregisterAll()
	}
	return n
}

// Run bridges the hub to the event bus until ctx is done. Without a bus it just waits.
func (h *SessionHub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.bus.Subscribe(ctx, h.receive)
	})
	g.Go(func() error {
		h.publishLoop(ctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forward queues an envelope for the bus without blocking the sender.
func (h *SessionHub) forward(env domain.Envelope) {
	env.Origin = h.origin
	select {
	case h.outbox <- env:
	default:
		if h.metrics != nil {
			h.metrics.BusPublishFailures.Inc()
		}
		h.logger.Warn("event bus outbox is full, dropping envelope", "tenant", env.Tenant, "group", env.Group)
	}
}

func (h *SessionHub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
			err := h.bus.Publish(pubCtx, env)
			cancel()
			if err != nil {
				if h.metrics != nil {
					h.metrics.BusPublishFailures.Inc()
				}
				h.logger.Debug("failed to publish envelope", "tenant", env.Tenant, "group", env.Group, "error", err)
			}
		}
	}
}

// receive delivers an envelope from another instance to local members.
func (h *SessionHub) receive(env domain.Envelope) {
	if env.Origin == h.origin {
		return
	}
	scope, ok := h.scopes[env.Tenant]
	if !ok {
		h.logger.Warn("envelope for unknown tenant scope", "tenant", env.Tenant, "origin", env.Origin)
		return
	}
	scope.Fanout.Deliver(env.Group, env.Event)
}

func scopeLabel(tenant string) string {
	if tenant == AnonymousScope {
		return "anonymous"
	}
	return tenant
}
