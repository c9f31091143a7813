package events

import (
	"context"
	"fmt"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"

	"github.com/goccy/go-json"
)

// Notifier hands committed messages to whatever delivers out-of-band
// notifications. The conversation core does not know how they are sent.
type Notifier interface {
	MessageCreated(ctx context.Context, msg message.Message, conv conversation.Conversation) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PubSubNotifier publishes message.created envelopes on NotificationChannel.
type PubSubNotifier struct {
	publisher Publisher
	channel   string
}

func NewPubSubNotifier(publisher Publisher) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher, channel: NotificationChannel}
}

func (n *PubSubNotifier) MessageCreated(ctx context.Context, msg message.Message, conv conversation.Conversation) error {
	payload := FromMessage(msg)
	env, err := NewEnvelope(EventTypeMessageCreated, conv.ID.String(), MessageCreatedPayload{
		Message:      payload,
		RecipientIDs: Recipients(conv, payload.SenderID),
	})
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return n.publisher.Publish(ctx, n.channel, data)
}

// NopNotifier drops notifications. Used when Redis is not configured.
type NopNotifier struct{}

func (NopNotifier) MessageCreated(context.Context, message.Message, conversation.Conversation) error {
	return nil
}
