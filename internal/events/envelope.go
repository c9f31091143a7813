package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Envelope wraps every event that crosses a process boundary: relay
// traffic between instances and notifications for external consumers.
type Envelope struct {
	EventType      string          `json:"event_type"`
	ConversationID string          `json:"conversation_id"`
	Participants   []string        `json:"participants,omitempty"`
	Unread         map[string]int  `json:"unread,omitempty"`
	Origin         string          `json:"origin,omitempty"`
	PrevAt         *time.Time      `json:"prev_at,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(eventType, conversationID string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventType:      eventType,
		ConversationID: conversationID,
		OccurredAt:     time.Now().UTC(),
		Payload:        data,
	}, nil
}

// Frame is the JSON object written to a realtime session.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// EncodeFrame renders a session frame.
func EncodeFrame(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(Frame{Type: eventType, Data: data})
}
