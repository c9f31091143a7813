package realtime

import (
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/events"

	"github.com/google/uuid"
)

// Delivery is one frame bound for one session.
type Delivery struct {
	Session   Session
	EventType string
	Frame     []byte
}

// MessageEvent is everything needed to plan delivery of a committed
// message, on this instance or on one that received it over the relay.
type MessageEvent struct {
	Message      events.MessagePayload
	Participants []string
	Unread       map[string]int
	// PrevAt is when the previous message of the conversation was stored.
	PrevAt *time.Time
}

func NewMessageEvent(msg message.Message, conv conversation.Conversation) MessageEvent {
	participants := make([]string, 0, 2)
	for _, id := range conv.ParticipantIDs() {
		participants = append(participants, id.String())
	}
	unread := make(map[string]int, len(conv.UnreadCount))
	for k, v := range conv.UnreadCount {
		unread[k] = v
	}
	return MessageEvent{
		Message:      events.FromMessage(msg),
		Participants: participants,
		Unread:       unread,
	}
}

// Plan decides who receives what for a new message: message.new to every
// session of every participant, the sender's other devices included, and
// unread.delta to every session of each participant other than the sender.
// It performs no I/O.
func Plan(ev MessageEvent, reg Registry) ([]Delivery, error) {
	newFrame, err := events.EncodeFrame(events.EventTypeMessageNew, ev.Message)
	if err != nil {
		return nil, err
	}

	var deliveries []Delivery
	seen := make(map[uuid.UUID]struct{}, len(ev.Participants))
	for _, raw := range ev.Participants {
		participantID, err := uuid.Parse(raw)
		if err != nil || participantID == uuid.Nil {
			continue
		}
		if _, dup := seen[participantID]; dup {
			continue
		}
		seen[participantID] = struct{}{}

		sessions := reg.Sessions(participantID)
		if len(sessions) == 0 {
			continue
		}

		var deltaFrame []byte
		if raw != ev.Message.SenderID {
			deltaFrame, err = events.EncodeFrame(events.EventTypeUnreadDelta, events.UnreadDeltaPayload{
				ConversationID: ev.Message.ConversationID,
				Delta:          1,
				UnreadCount:    ev.Unread[raw],
			})
			if err != nil {
				return nil, err
			}
		}

		for _, s := range sessions {
			deliveries = append(deliveries, Delivery{Session: s, EventType: events.EventTypeMessageNew, Frame: newFrame})
			if deltaFrame != nil {
				deliveries = append(deliveries, Delivery{Session: s, EventType: events.EventTypeUnreadDelta, Frame: deltaFrame})
			}
		}
	}
	return deliveries, nil
}

// PlanRead sends conversation.read to every session of the reader so other
// devices can clear their badge.
func PlanRead(payload events.ConversationReadPayload, reg Registry) ([]Delivery, error) {
	readerID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return nil, nil
	}
	sessions := reg.Sessions(readerID)
	if len(sessions) == 0 {
		return nil, nil
	}
	frame, err := events.EncodeFrame(events.EventTypeConversationRead, payload)
	if err != nil {
		return nil, err
	}
	deliveries := make([]Delivery, 0, len(sessions))
	for _, s := range sessions {
		deliveries = append(deliveries, Delivery{Session: s, EventType: events.EventTypeConversationRead, Frame: frame})
	}
	return deliveries, nil
}
