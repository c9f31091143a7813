package events

import (
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
)

// Realtime frame types pushed to sessions. These follow the format
// domain.action.
const (
	EventTypeMessageNew       = "message.new"
	EventTypeUnreadDelta      = "unread.delta"
	EventTypeConversationRead = "conversation.read"
	EventTypePong             = "pong"
	EventTypeError            = "error"
)

// EventTypeMessageCreated is the notification emitted for external
// notifiers (email, push) after a message commits.
const EventTypeMessageCreated = "message.created"

// MessagePayload is the wire form of a message inside realtime frames and
// notifications.
type MessagePayload struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Content         string    `json:"content"`
	Seq             int64     `json:"seq"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"created_at"`
}

// UnreadDeltaPayload tells a recipient's sessions to bump a badge.
type UnreadDeltaPayload struct {
	ConversationID string `json:"conversation_id"`
	Delta          int    `json:"delta"`
	UnreadCount    int    `json:"unread_count"`
}

// ConversationReadPayload tells a reader's other sessions to clear a badge.
type ConversationReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MessageCreatedPayload is what external notifiers receive.
type MessageCreatedPayload struct {
	Message      MessagePayload `json:"message"`
	RecipientIDs []string       `json:"recipient_ids"`
}

func FromMessage(m message.Message) MessagePayload {
	p := MessagePayload{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		Content:        m.Content,
		Seq:            m.Seq,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.ClientMessageID != nil {
		p.ClientMessageID = *m.ClientMessageID
	}
	return p
}

// Recipients lists the participants other than the sender.
func Recipients(conv conversation.Conversation, senderID string) []string {
	var out []string
	for _, id := range conv.ParticipantIDs() {
		if id.String() != senderID {
			out = append(out, id.String())
		}
	}
	return out
}
