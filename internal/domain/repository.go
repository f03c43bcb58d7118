package domain

import "context"

// EventBus carries fan-out envelopes between server instances.
type EventBus interface {
	// Publish sends an envelope to every other instance. It must not block for long.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe delivers envelopes published by any instance until ctx is done.
	Subscribe(ctx context.Context, handler func(Envelope)) error
}

// IdentityVerifier turns a raw credential into a verified identity.
type IdentityVerifier interface {
	Verify(token string) (Identity, error)
}
