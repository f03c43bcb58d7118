package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// Fanout delivers events to every live session of a group in one registry.
// Sends are fire-and-forget: they only enqueue and never wait on a client.
type Fanout struct {
	registry *LiveRegistry
	tenant   string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// forward, when set, hands every locally originated event to other instances.
	forward func(domain.Envelope)
}

// NewFanout creates a Fanout over registry. tenant labels the scope in logs and metrics.
func NewFanout(registry *LiveRegistry, tenant string, logger *slog.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{
		registry: registry,
		tenant:   tenant,
		logger:   logger.With("component", "fanout", "tenant", tenant),
		metrics:  m,
	}
}

// SendToRole delivers to every session whose owner has role.
func (f *Fanout) SendToRole(role domain.Role, event string, payload any) (int, error) {
	return f.SendToGroup(domain.RoleGroup(role), event, payload)
}

// SendToUser delivers to every session owned by userID.
func (f *Fanout) SendToUser(userID int64, event string, payload any) (int, error) {
	return f.SendToGroup(domain.UserGroup(userID), event, payload)
}

// SendToGroup delivers to every session currently in group and returns how
// many sessions the event was queued for. The only error is an unencodable payload.
func (f *Fanout) SendToGroup(group, event string, payload any) (int, error) {
	ev, err := NewEvent(event, payload)
	if err != nil {
		return 0, err
	}

	n := f.deliver(group, ev, "local")
	if f.forward != nil {
		f.forward(domain.Envelope{Tenant: f.tenant, Group: group, Event: ev})
	}
	return n, nil
}

// Deliver queues an already built event for local members of group only.
func (f *Fanout) Deliver(group string, ev domain.Event) int {
	return f.deliver(group, ev, "bus")
}

func (f *Fanout) deliver(group string, ev domain.Event, source string) int {
	members := f.registry.Members(group)

	delivered, dropped := 0, 0
	for _, s := range members {
		ok, droppedOldest := s.enqueue(ev)
		if ok {
			delivered++
		}
		if droppedOldest || !ok {
			dropped++
		}
	}

	if f.metrics != nil {
		f.metrics.EventsFannedOut.WithLabelValues(source).Add(float64(delivered))
		if dropped > 0 {
			f.metrics.EventsDropped.Add(float64(dropped))
		}
	}
	if dropped > 0 {
		f.logger.Warn("session backlog full, dropped oldest events", "group", group, "event", ev.Name, "dropped", dropped)
	}
	return delivered
}

// NewEvent builds an event with a fresh id. payload may be pre-encoded JSON.
func NewEvent(name string, payload any) (domain.Event, error) {
	if name == "" {
		return domain.Event{}, fmt.Errorf("event name is required")
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		if !json.Valid(p) {
			return domain.Event{}, fmt.Errorf("encode payload for %s: invalid JSON", name)
		}
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return domain.Event{}, fmt.Errorf("encode payload for %s: %w", name, err)
		}
		raw = b
	}

	return domain.Event{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: raw,
		SentAt:  time.Now().UTC(),
	}, nil
}
