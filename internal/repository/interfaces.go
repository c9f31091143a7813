package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/domain/user"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	// ListAfter pages through users ordered by id, starting after afterID.
	ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]user.User, error)
	UpdateNames(ctx context.Context, id uuid.UUID, firstName, lastName string) error
}

type ProfileRepository interface {
	CreateTutorProfile(ctx context.Context, p *user.TutorProfile) error
	CreateStudentProfile(ctx context.Context, p *user.StudentProfile) error
	GetTutorProfileByID(ctx context.Context, id uuid.UUID) (user.TutorProfile, error)
	// The ByUserID lookups follow the profile's user_id back-reference and
	// load the linked user with it.
	GetTutorProfileByUserID(ctx context.Context, userID uuid.UUID) (user.TutorProfile, error)
	GetStudentProfileByUserID(ctx context.Context, userID uuid.UUID) (user.StudentProfile, error)
}

type ConversationRepository interface {
	// Create inserts the conversation and a zeroed unread row per participant.
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	// GetByIDForUpdate also takes the row lock until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	// GetByPair expects an already sorted pair.
	GetByPair(ctx context.Context, a, b uuid.UUID) (conversation.Conversation, error)
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error)
	FillContext(ctx context.Context, id uuid.UUID, convType string, tutorProfileID uuid.UUID) error

	// RecordMessage bumps last_seq and the preview and returns the new seq.
	RecordMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time) (int64, error)
	IncrementUnread(ctx context.Context, id uuid.UUID, exceptUserID uuid.UUID) error
	ResetUnread(ctx context.Context, id uuid.UUID, userID uuid.UUID, at time.Time) error
	UnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error)

	ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]conversation.Conversation, error)
	UpdateSlots(ctx context.Context, id uuid.UUID, a, b uuid.UUID) error
	AddUnread(ctx context.Context, id uuid.UUID, userID uuid.UUID, delta int) error
	SetLastMessage(ctx context.Context, id uuid.UUID, preview string, at *time.Time, lastSeq int64) error
	Delete(ctx context.Context, id uuid.UUID) error
	EnsurePairIndex(ctx context.Context) error
	// CountUnsorted counts rows whose slots are not in canonical order.
	CountUnsorted(ctx context.Context) (int64, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByClientMessageID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (message.Message, error)
	// ListByConversation returns up to limit messages with seq < beforeSeq
	// (no bound when beforeSeq <= 0), oldest first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]message.Message, error)
	MarkReadFor(ctx context.Context, conversationID uuid.UUID, readerID uuid.UUID) (int64, error)
	CountByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error)
	// Reparent moves every message of from onto to, shifting seq by offset.
	// client_message_id is kept unless to already holds the same id.
	Reparent(ctx context.Context, from, to uuid.UUID, offset int64) (int64, error)
}
