package conversation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TypeDirect = "direct"
	TypeTutor  = "tutor"
)

// Conversation represents the conversations table. ParticipantA and
// ParticipantB are the two positional slots and are stored sorted by the
// string form of the id; idx_conversations_pair keeps one row per pair.
type Conversation struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ParticipantA    uuid.UUID     `gorm:"type:uuid;not null;index"`
	ParticipantB    uuid.UUID     `gorm:"type:uuid;not null;index"`
	Type            string        `gorm:"not null;default:direct"`
	TutorProfileID  uuid.NullUUID `gorm:"type:uuid"`
	LastMessage     string
	LastMessageTime *time.Time
	LastSeq         int64 `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`

	// Relationships
	Participants []Participant `gorm:"foreignKey:ConversationID"`

	// UnreadCount is keyed by user id string and filled from Participants.
	UnreadCount map[string]int `gorm:"-"`
}

// Participant represents the conversation_participants table: one row per
// member holding that member's unread counter.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	UnreadCount    int       `gorm:"not null;default:0"`
	LastReadAt     *time.Time
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AfterFind exposes the counter rows as the UnreadCount map.
func (c *Conversation) AfterFind(*gorm.DB) error {
	c.SyncUnread()
	return nil
}

// SyncUnread rebuilds UnreadCount from the participant rows.
func (c *Conversation) SyncUnread() {
	c.UnreadCount = make(map[string]int, 2)
	for _, id := range c.ParticipantIDs() {
		c.UnreadCount[id.String()] = 0
	}
	for _, p := range c.Participants {
		c.UnreadCount[p.UserID.String()] = p.UnreadCount
	}
}

// ParticipantIDs returns the two slot values in order.
func (c Conversation) ParticipantIDs() []uuid.UUID {
	return []uuid.UUID{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID occupies one of the slots.
func (c Conversation) HasParticipant(userID uuid.UUID) bool {
	if userID == uuid.Nil {
		return false
	}
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the slot value that is not userID, or uuid.Nil
// when it cannot be determined (userID absent, self-pair or empty slot).
func (c Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	var other uuid.UUID
	switch userID {
	case c.ParticipantA:
		other = c.ParticipantB
	case c.ParticipantB:
		other = c.ParticipantA
	default:
		return uuid.Nil
	}
	if other == userID {
		return uuid.Nil
	}
	return other
}

// UnreadFor returns userID's counter, zero when unknown.
func (c Conversation) UnreadFor(userID uuid.UUID) int {
	if c.UnreadCount == nil {
		c.SyncUnread()
	}
	return c.UnreadCount[userID.String()]
}

// IsSorted reports whether the slots are in canonical order.
func (c Conversation) IsSorted() bool {
	return c.ParticipantA.String() <= c.ParticipantB.String()
}

// SortPair orders two participant ids by their string form.
func SortPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

// PairKey is the grouping key for an unordered pair.
func PairKey(a, b uuid.UUID) string {
	first, second := SortPair(a, b)
	return first.String() + ":" + second.String()
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "conversation_participants"
}
