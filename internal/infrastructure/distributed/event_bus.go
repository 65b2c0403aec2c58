package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// Message is the pub/sub wire format. The envelope travels unchanged so
// subscribers see exactly what webhooks receive.
type Message struct {
	InstanceID string          `json:"instance_id"`
	Envelope   domain.Envelope `json:"envelope"`
}

// Subscriber delivers broadcast envelopes to handler until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(domain.Envelope)) error
}

// EventBus is the best-effort real-time channel shared by every gateway
// instance and the standalone realtime feed.
type EventBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.SugaredLogger
}

var (
	_ ports.RealtimeSink = (*EventBus)(nil)
	_ Subscriber         = (*EventBus)(nil)
)

func NewEventBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (eb *EventBus) Broadcast(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(Message{InstanceID: eb.instanceID, Envelope: env})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	receivers, err := eb.client.Publish(ctx, eb.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	eb.logger.Debugw("Published event",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"receivers", receivers,
	)
	return nil
}

// Subscribe blocks until ctx is cancelled. Malformed messages are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no early publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				eb.logger.Warnw("Failed to unmarshal event", "error", err)
				continue
			}
			handler(m.Envelope)
		}
	}
}
