// Package bus is the Redis pub/sub transport for domain events.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfganghq/centurion/internal/events"
	"github.com/wolfganghq/centurion/internal/metrics"
)

// Handler processes one raw frame from a channel. A returned error triggers a
// bounded retry before the frame is dropped.
type Handler func(ctx context.Context, payload string) error

// Publisher publishes envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, env *events.Envelope) error
}

// Bus wraps a Redis client with publish and subscribe helpers.
type Bus struct {
	rdb *redis.Client
}

// New creates a Bus over an existing Redis client.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish serializes env and publishes it on channel. The channel name equals
// the event type by convention.
func (b *Bus) Publish(ctx context.Context, channel string, env *events.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	metrics.DomainEventsTotal.WithLabelValues(env.Type).Inc()
	return nil
}

// Subscriber consumes registered channels until the context is canceled.
type Subscriber struct {
	rdb      *redis.Client
	handlers map[string]Handler
}

// NewSubscriber creates an empty subscriber over rdb.
func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb, handlers: make(map[string]Handler)}
}

// Register binds a handler to a channel. Last registration wins.
func (s *Subscriber) Register(channel string, h Handler) {
	s.handlers[channel] = h
}

// Run subscribes and dispatches messages until ctx is done. Handler errors
// are retried up to three times with backoff, then logged and dropped; a
// poison frame never stalls the subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	if len(s.handlers) == 0 {
		slog.WarnContext(ctx, "bus subscriber has no handlers")
		<-ctx.Done()
		return ctx.Err()
	}

	channels := make([]string, 0, len(s.handlers))
	for ch := range s.handlers {
		channels = append(channels, ch)
	}

	sub := s.rdb.Subscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.InfoContext(ctx, "bus subscribed", "channels", channels)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			handler := s.handlers[msg.Channel]
			if handler == nil {
				continue
			}
			s.dispatch(ctx, msg.Channel, msg.Payload, handler)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, channel, payload string, h Handler) {
	var err error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= 3; attempt++ {
		if err = h(ctx, payload); err == nil {
			return
		}
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	slog.ErrorContext(ctx, "bus handler failed", "channel", channel, "error", err)
}
