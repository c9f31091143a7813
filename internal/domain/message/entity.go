package message

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxContentLength bounds a single message body.
const MaxContentLength = 4000

// Message represents the messages table. Seq is assigned from the
// conversation's last_seq inside the append transaction.
type Message struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID  uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conversation_seq,priority:1;uniqueIndex:idx_messages_client_id,priority:1"`
	SenderID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Content         string    `gorm:"not null"`
	Seq             int64     `gorm:"not null;index:idx_messages_conversation_seq,priority:2"`
	ClientMessageID *string   `gorm:"uniqueIndex:idx_messages_client_id,priority:2"`
	Read            bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Preview is the text stored as the conversation's last message.
func (m Message) Preview() string {
	const max = 200
	runes := []rune(m.Content)
	if len(runes) <= max {
		return m.Content
	}
	return string(runes[:max])
}

func (Message) TableName() string {
	return "messages"
}
