package httpdto

import (
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/identity"
	"studysphere/internal/services"
)

type CreateConversationRequest struct {
	ParticipantID  string `json:"participant_id" binding:"required"`
	TutorProfileID string `json:"tutor_profile_id"`
}

type TutorInfoDTO struct {
	ProfileID      string `json:"profile_id"`
	UserID         string `json:"user_id"`
	Specialization string `json:"specialization,omitempty"`
	Subjects       string `json:"subjects,omitempty"`
}

// ConversationDTO is one entry of the conversation list.
type ConversationDTO struct {
	ID              string                    `json:"id"`
	OtherUser       identity.ResolvedIdentity `json:"other_user"`
	LastMessage     string                    `json:"last_message"`
	LastMessageTime *time.Time                `json:"last_message_time"`
	UnreadCount     int                       `json:"unread_count"`
	Type            string                    `json:"type"`
	TutorInfo       *TutorInfoDTO             `json:"tutor_info,omitempty"`
}

// ConversationResponse is returned by find-or-create.
type ConversationResponse struct {
	ID              string         `json:"id"`
	ParticipantIDs  []string       `json:"participant_ids"`
	Type            string         `json:"type"`
	TutorProfileID  string         `json:"tutor_profile_id,omitempty"`
	LastMessage     string         `json:"last_message"`
	LastMessageTime *time.Time     `json:"last_message_time"`
	UnreadCount     map[string]int `json:"unread_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Created         bool           `json:"created"`
}

type UnreadTotalResponse struct {
	Total int64 `json:"total"`
}

func FromConversationSummary(s services.ConversationSummary) ConversationDTO {
	dto := ConversationDTO{
		ID:              s.Conversation.ID.String(),
		OtherUser:       s.OtherUser,
		LastMessage:     s.Conversation.LastMessage,
		LastMessageTime: s.Conversation.LastMessageTime,
		UnreadCount:     s.UnreadCount,
		Type:            s.Conversation.Type,
	}
	if s.TutorInfo != nil {
		dto.TutorInfo = &TutorInfoDTO{
			ProfileID:      s.TutorInfo.ProfileID.String(),
			UserID:         s.TutorInfo.UserID.String(),
			Specialization: s.TutorInfo.Specialization,
			Subjects:       s.TutorInfo.Subjects,
		}
	}
	return dto
}

func FromConversationSummaries(items []services.ConversationSummary) []ConversationDTO {
	out := make([]ConversationDTO, 0, len(items))
	for _, s := range items {
		out = append(out, FromConversationSummary(s))
	}
	return out
}

func FromConversation(c conversation.Conversation, created bool) ConversationResponse {
	resp := ConversationResponse{
		ID:              c.ID.String(),
		ParticipantIDs:  []string{c.ParticipantA.String(), c.ParticipantB.String()},
		Type:            c.Type,
		LastMessage:     c.LastMessage,
		LastMessageTime: c.LastMessageTime,
		UnreadCount:     c.UnreadCount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Created:         created,
	}
	if c.TutorProfileID.Valid {
		resp.TutorProfileID = c.TutorProfileID.UUID.String()
	}
	return resp
}
