package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// DefaultChannel is the Pub/Sub channel shared by all instances.
const DefaultChannel = "schoolpulse:events"

// EventBus implements domain.EventBus on Redis Pub/Sub.
// Delivery is at-most-once: instances that are not subscribed miss the envelope.
type EventBus struct {
	client      *redis.Client
	channel     string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	isAvailable atomic.Bool

	maxRetryInterval time.Duration
}

// NewEventBus creates a new Redis-backed EventBus.
func NewEventBus(client *redis.Client, channel string, logger *slog.Logger, m *metrics.Metrics) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &EventBus{
		client:           client,
		channel:          channel,
		logger:           logger.With("component", "redis_event_bus", "channel", channel),
		metrics:          m,
		maxRetryInterval: 10 * time.Second,
	}
	b.setAvailable(true) // Assume available initially
	return b
}

// Available reports the last known Redis connectivity.
func (b *EventBus) Available() bool { return b.isAvailable.Load() }

// StartHealthCheck monitors Redis connectivity until ctx is done.
func (b *EventBus) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info("Starting Redis health check")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			err := b.client.Ping(ctx).Err()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if b.isAvailable.CompareAndSwap(true, false) {
					b.setAvailable(false)
					b.logger.Error("Redis connection lost", "error", err)
				}
			} else if b.isAvailable.CompareAndSwap(false, true) {
				b.setAvailable(true)
				b.logger.Info("Redis connection recovered")
			}
		}
	}
}

// Publish sends an envelope to every subscribed instance.
func (b *EventBus) Publish(ctx context.Context, env domain.Envelope) error {
	if !b.isAvailable.Load() {
		return domain.ErrBusUnavailable
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		if isNetworkError(err) && b.isAvailable.CompareAndSwap(true, false) {
			b.setAvailable(false)
			b.logger.Error("Redis connection lost during publish", "error", err)
		}
		return fmt.Errorf("failed to PUBLISH to redis: %w", err)
	}
	return nil
}

// Subscribe delivers envelopes to handler until ctx is done, resubscribing
// with exponential backoff whenever the subscription drops.
func (b *EventBus) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until ctx is done
	policy.MaxInterval = b.maxRetryInterval

	for {
		var ps *redis.PubSub
		attempt := 1
		err := backoff.Retry(func() error {
			ps = b.client.Subscribe(ctx, b.channel)
			if _, err := ps.Receive(ctx); err != nil {
				_ = ps.Close()
				b.logger.Warn("waiting for redis subscription", "attempt", attempt, "error", err)
				attempt++
				return err
			}
			return nil
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
		}

		b.logger.Info("subscribed to event bus")
		b.consume(ctx, ps, handler)
		_ = ps.Close()

		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("event bus subscription dropped, resubscribing")
		policy.Reset()
	}
}

func (b *EventBus) consume(ctx context.Context, ps *redis.PubSub, handler func(domain.Envelope)) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env domain.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Failed to unmarshal envelope, skipping", "error", err)
				continue
			}
			handler(env)
		}
	}
}

func (b *EventBus) setAvailable(up bool) {
	b.isAvailable.Store(up)
	if b.metrics == nil {
		return
	}
	if up {
		b.metrics.BusAvailable.Set(1)
	} else {
		b.metrics.BusAvailable.Set(0)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
