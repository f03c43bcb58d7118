package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

// PublishRequest is a fan-out request raised by a business-logic component.
type PublishRequest struct {
	Tenant  string          `json:"tenant"`
	Target  domain.Target   `json:"target"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PublishEventUseCase validates publish requests and hands them to the right tenant's fan-out.
type PublishEventUseCase struct {
	hub    *SessionHub
	logger *slog.Logger
}

// NewPublishEventUseCase creates a new PublishEventUseCase.
func NewPublishEventUseCase(hub *SessionHub, logger *slog.Logger) *PublishEventUseCase {
	return &PublishEventUseCase{
		hub:    hub,
		logger: logger.With("component", "publish_event"),
	}
}

// Publish resolves the request's scope and target group and fans the event out.
// It returns the number of local sessions the event was queued for.
func (uc *PublishEventUseCase) Publish(ctx context.Context, req PublishRequest) (int, error) {
	scope, ok := uc.hub.Scope(req.Tenant)
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTenant, req.Tenant)
	}
	if req.Tenant == AnonymousScope && req.Target.Kind != domain.TargetGroup {
		return 0, fmt.Errorf("%w: anonymous sessions can only be reached through topic groups", domain.ErrInvalidGroup)
	}

	group, err := req.Target.Group()
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", domain.ErrInvalidGroup, req.Target.Kind, req.Target.Name)
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	n, err := scope.Fanout.SendToGroup(group, req.Event, payload)
	if err != nil {
		return 0, err
	}

	uc.logger.Debug("event published", "tenant", req.Tenant, "group", group, "event", req.Event, "sessions", n)
	return n, nil
}
