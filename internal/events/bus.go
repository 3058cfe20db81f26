package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"contentflow/internal/logging"
)

// TopicTransitions carries every workflow status change.
const TopicTransitions = "workflow.transitions"

// Transition describes one status change of a workflow record.
type Transition struct {
	WorkflowID string    `json:"workflow_id"`
	Brand      string    `json:"brand"`
	Stage      string    `json:"stage,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	JobID      string    `json:"external_job_id,omitempty"`
	ResultURL  string    `json:"result_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Bus is an in-process publish/subscribe channel for transitions. Delivery
// is best effort: events published with no subscriber are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewBus constructs an in-memory bus.
func NewBus(logger *slog.Logger) *Bus {
	logger = logging.NewComponentLogger(logger, "events")
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish sends t to every current subscriber.
func (b *Bus) Publish(t Transition) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("workflow_id", t.WorkflowID)
	msg.Metadata.Set("to", t.To)
	if err := b.pubsub.Publish(TopicTransitions, msg); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}
	return nil
}

// Subscribe returns a channel of transitions that closes when ctx ends or the
// bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Transition, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicTransitions)
	if err != nil {
		return nil, fmt.Errorf("subscribe transitions: %w", err)
	}
	out := make(chan Transition, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var t Transition
			if err := json.Unmarshal(msg.Payload, &t); err != nil {
				b.logger.Warn("dropping undecodable transition",
					logging.String("message_uuid", msg.UUID),
					logging.Error(err),
					logging.String(logging.FieldEventType, "event_decode_failed"),
					logging.String(logging.FieldErrorHint, "publisher and subscriber disagree on the transition format"),
				)
				msg.Ack()
				continue
			}
			select {
			case out <- t:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close stops delivery and closes every subscription.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubsub.Close()
}
