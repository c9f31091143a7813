package services

import (
	"context"
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"

	"github.com/google/uuid"
)

// RealtimePublisher pushes committed changes to live sessions. Delivery is
// best effort, so it reports nothing back. prevAt is when the message before
// msg was stored, nil for the first one.
type RealtimePublisher interface {
	PublishMessage(ctx context.Context, msg message.Message, conv conversation.Conversation, prevAt *time.Time)
	PublishRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time)
}

type NopPublisher struct{}

func (NopPublisher) PublishMessage(context.Context, message.Message, conversation.Conversation, *time.Time) {
}

func (NopPublisher) PublishRead(context.Context, uuid.UUID, uuid.UUID, time.Time) {}
