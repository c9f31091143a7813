package httpdto

import (
	"studysphere/internal/domain/message"
	"studysphere/internal/events"
)

type SendMessageRequest struct {
	ConversationID  string `json:"conversation_id"`
	RecipientID     string `json:"recipient_id"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// MessageResponse shares its shape with the realtime message.new payload.
type MessageResponse = events.MessagePayload

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
	// NextBeforeSeq pages further back; zero when the first message is
	// already included.
	NextBeforeSeq int64 `json:"next_before_seq"`
}

func FromMessage(m message.Message) MessageResponse {
	return events.FromMessage(m)
}

func FromMessages(items []message.Message) ListMessagesResponse {
	resp := ListMessagesResponse{Messages: make([]MessageResponse, 0, len(items))}
	for _, m := range items {
		resp.Messages = append(resp.Messages, events.FromMessage(m))
	}
	if len(items) > 0 && items[0].Seq > 1 {
		resp.NextBeforeSeq = items[0].Seq
	}
	return resp
}
