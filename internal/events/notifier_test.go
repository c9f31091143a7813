package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	channel string
	payload []byte
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channel = channel
	p.payload = payload
	return p.err
}

func TestPubSubNotifier_MessageCreated(t *testing.T) {
	sender, recipient := uuid.New(), uuid.New()
	a, b := conversation.SortPair(sender, recipient)
	conv := conversation.Conversation{ID: uuid.New(), ParticipantA: a, ParticipantB: b}
	clientID := "c-1"
	msg := message.Message{
		ID:              uuid.New(),
		ConversationID:  conv.ID,
		SenderID:        sender,
		Content:         "hello",
		Seq:             7,
		ClientMessageID: &clientID,
		CreatedAt:       time.Now().UTC(),
	}

	pub := &recordingPublisher{}
	require.NoError(t, NewPubSubNotifier(pub).MessageCreated(context.Background(), msg, conv))
	assert.Equal(t, NotificationChannel, pub.channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.payload, &env))
	assert.Equal(t, EventTypeMessageCreated, env.EventType)
	assert.Equal(t, conv.ID.String(), env.ConversationID)

	var payload MessageCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []string{recipient.String()}, payload.RecipientIDs)
	assert.Equal(t, int64(7), payload.Message.Seq)
	assert.Equal(t, "c-1", payload.Message.ClientMessageID)
}

func TestPubSubNotifier_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	conv := conversation.Conversation{ID: uuid.New(), ParticipantA: uuid.New(), ParticipantB: uuid.New()}
	err := NewPubSubNotifier(pub).MessageCreated(context.Background(), message.Message{SenderID: conv.ParticipantA}, conv)
	assert.Error(t, err)
}

func TestNopNotifier(t *testing.T) {
	assert.NoError(t, NopNotifier{}.MessageCreated(context.Background(), message.Message{}, conversation.Conversation{}))
}
