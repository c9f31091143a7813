package realtime

import (
	"context"
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/events"
	"studysphere/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus delivers committed events to the sessions on this instance and relays
// them to the other instances. Delivery is best effort: a full session
// buffer drops the frame and the client recovers by refetching history.
type Bus struct {
	registry Registry
	relay    *Relay
	logger   *SessionLogger
	// order puts local and relayed messages of a conversation back in seq
	// order; nil without a relay, where the send path already orders them.
	order *sequencer
}

// NewBus builds a bus. relay may be nil for a single instance deployment.
func NewBus(registry Registry, relay *Relay, l *SessionLogger) *Bus {
	if l == nil {
		l = NewSessionLogger(nil)
	}
	b := &Bus{registry: registry, relay: relay, logger: l}
	if relay != nil {
		b.order = newSequencer(defaultReorderHold, b.deliverMessage)
	}
	return b
}

func (b *Bus) PublishMessage(ctx context.Context, msg message.Message, conv conversation.Conversation, prevAt *time.Time) {
	ev := NewMessageEvent(msg, conv)
	ev.PrevAt = prevAt
	b.admitMessage(ev)

	if b.relay == nil {
		return
	}
	env, err := events.NewEnvelope(events.EventTypeMessageNew, ev.Message.ConversationID, ev.Message)
	if err != nil {
		b.logger.Error("relay encode failed", msg.SenderID, "", err)
		return
	}
	env.Participants = ev.Participants
	env.Unread = ev.Unread
	env.PrevAt = ev.PrevAt
	if err := b.relay.Publish(ctx, env); err != nil {
		b.logger.Warn("relay publish failed", msg.SenderID, "", zap.Error(err),
			zap.String("conversation_id", ev.Message.ConversationID))
	}
}

func (b *Bus) PublishRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) {
	payload := events.ConversationReadPayload{
		ConversationID: conversationID.String(),
		UserID:         userID.String(),
		ReadAt:         readAt.UTC(),
	}
	b.deliverRead(payload)

	if b.relay == nil {
		return
	}
	env, err := events.NewEnvelope(events.EventTypeConversationRead, payload.ConversationID, payload)
	if err != nil {
		b.logger.Error("relay encode failed", userID, "", err)
		return
	}
	env.Participants = []string{payload.UserID}
	if err := b.relay.Publish(ctx, env); err != nil {
		b.logger.Warn("relay publish failed", userID, "", zap.Error(err),
			zap.String("conversation_id", payload.ConversationID))
	}
}

// Start consumes relay traffic until ctx is done. It is a no-op without a
// relay.
func (b *Bus) Start(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Start(ctx, b.handleRelay)
}

func (b *Bus) handleRelay(env events.Envelope) {
	switch env.EventType {
	case events.EventTypeMessageNew:
		var payload events.MessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			metrics.RelayErrors.WithLabelValues("decode").Inc()
			return
		}
		b.admitMessage(MessageEvent{
			Message:      payload,
			Participants: env.Participants,
			Unread:       env.Unread,
			PrevAt:       env.PrevAt,
		})
	case events.EventTypeConversationRead:
		var payload events.ConversationReadPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			metrics.RelayErrors.WithLabelValues("decode").Inc()
			return
		}
		b.deliverRead(payload)
	}
}

func (b *Bus) admitMessage(ev MessageEvent) {
	if b.order == nil {
		b.deliverMessage(ev)
		return
	}
	b.order.admit(ev)
}

func (b *Bus) deliverMessage(ev MessageEvent) {
	deliveries, err := Plan(ev, b.registry)
	if err != nil {
		b.logger.Error("plan failed", uuid.Nil, "", err, zap.String("conversation_id", ev.Message.ConversationID))
		return
	}
	b.push(deliveries)
}

func (b *Bus) deliverRead(payload events.ConversationReadPayload) {
	deliveries, err := PlanRead(payload, b.registry)
	if err != nil {
		b.logger.Error("plan failed", uuid.Nil, "", err, zap.String("conversation_id", payload.ConversationID))
		return
	}
	b.push(deliveries)
}

func (b *Bus) push(deliveries []Delivery) {
	for _, d := range deliveries {
		if d.Session.Push(d.Frame) {
			metrics.EventsDelivered.WithLabelValues(d.EventType).Inc()
			continue
		}
		metrics.EventsDropped.WithLabelValues(d.EventType).Inc()
		b.logger.Warn("frame dropped", d.Session.UserID(), d.Session.ID(), zap.String("type", d.EventType))
	}
}
