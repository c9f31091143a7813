package commands

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"studysphere/internal/domain/message"
	studysphere_errors "studysphere/pkg/errors"

	"github.com/google/uuid"
)

const (
	TypeSendMessage  = "message.send"
	TypeMarkRead     = "conversation.mark_read"
	TypeFindOrCreate = "conversation.find_or_create"
)

// SendMessageCommand appends a message. Either ConversationID or
// RecipientID names the conversation; RecipientID finds or creates it.
type SendMessageCommand struct {
	SenderID        uuid.UUID `json:"sender_id"`
	ConversationID  uuid.UUID `json:"conversation_id"`
	RecipientID     uuid.UUID `json:"recipient_id"`
	Content         string    `json:"content"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
}

func (c SendMessageCommand) CommandType() string { return TypeSendMessage }

func (c SendMessageCommand) IdempotencyKey() string { return c.ClientMessageID }

func (c SendMessageCommand) Validate() error {
	if c.SenderID == uuid.Nil {
		return fmt.Errorf("%w: sender_id is required", studysphere_errors.ErrInvalidInput)
	}
	if c.ConversationID == uuid.Nil && c.RecipientID == uuid.Nil {
		return fmt.Errorf("%w: conversation_id or recipient_id is required", studysphere_errors.ErrInvalidInput)
	}
	if c.RecipientID == c.SenderID {
		return fmt.Errorf("%w: cannot message yourself", studysphere_errors.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("%w: content cannot be empty", studysphere_errors.ErrInvalidInput)
	}
	if utf8.RuneCountInString(c.Content) > message.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", studysphere_errors.ErrInvalidInput, message.MaxContentLength)
	}
	if len(c.ClientMessageID) > 64 {
		return fmt.Errorf("%w: client_message_id too long", studysphere_errors.ErrInvalidInput)
	}
	return nil
}

type MarkReadCommand struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}

func (c MarkReadCommand) CommandType() string { return TypeMarkRead }

func (c MarkReadCommand) IdempotencyKey() string { return "" }

func (c MarkReadCommand) Validate() error {
	if c.ConversationID == uuid.Nil || c.UserID == uuid.Nil {
		return fmt.Errorf("%w: conversation_id and user_id are required", studysphere_errors.ErrInvalidInput)
	}
	return nil
}

// FindOrCreateCommand opens the conversation between two users. The tutor
// profile is context only and never creates a second conversation.
type FindOrCreateCommand struct {
	UserID         uuid.UUID     `json:"user_id"`
	OtherUserID    uuid.UUID     `json:"other_user_id"`
	TutorProfileID uuid.NullUUID `json:"tutor_profile_id"`
}

func (c FindOrCreateCommand) CommandType() string { return TypeFindOrCreate }

func (c FindOrCreateCommand) IdempotencyKey() string { return "" }

func (c FindOrCreateCommand) Validate() error {
	if c.UserID == uuid.Nil || c.OtherUserID == uuid.Nil {
		return fmt.Errorf("%w: both participants are required", studysphere_errors.ErrInvalidInput)
	}
	if c.UserID == c.OtherUserID {
		return fmt.Errorf("%w: participants must differ", studysphere_errors.ErrInvalidInput)
	}
	return nil
}
