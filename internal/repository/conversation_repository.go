package repository

import (
	"context"
	"time"

	"studysphere/internal/domain/conversation"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pairIndexName   = "idx_conversations_pair"
	legacyIndexName = "idx_conversations_participants"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(c).Error; err != nil {
			return err
		}
		rows := []conversation.Participant{
			{ConversationID: c.ID, UserID: c.ParticipantA},
			{ConversationID: c.ID, UserID: c.ParticipantB},
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		c.Participants = rows
		return nil
	})
	if err != nil {
		return translateError("create conversation", err)
	}
	c.SyncUnread()
	return nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, translateError("get conversation", err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, translateError("lock conversation", err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetByPair(ctx context.Context, a, b uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("participant_a = ? AND participant_b = ?", a, b).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, translateError("get conversation by pair", err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	var conversations []conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, translateError("list user conversations", err)
	}
	return conversations, nil
}

func (r *PostgresConversationRepository) FillContext(ctx context.Context, id uuid.UUID, convType string, tutorProfileID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ? AND tutor_profile_id IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"type":             convType,
			"tutor_profile_id": uuid.NullUUID{UUID: tutorProfileID, Valid: true},
		}).Error
	return translateError("fill conversation context", err)
}

func (r *PostgresConversationRepository) RecordMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&conversation.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"last_seq":          gorm.Expr("last_seq + 1"),
			"last_message":      preview,
			"last_message_time": at,
			"updated_at":        at,
		})
	if err := mustAffect("record message", res); err != nil {
		return 0, err
	}

	var seq int64
	if err := db.Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Select("last_seq").
		Scan(&seq).Error; err != nil {
		return 0, translateError("read sequence", err)
	}
	return seq, nil
}

func (r *PostgresConversationRepository) IncrementUnread(ctx context.Context, id uuid.UUID, exceptUserID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id <> ?", id, exceptUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	return translateError("increment unread", err)
}

func (r *PostgresConversationRepository) ResetUnread(ctx context.Context, id uuid.UUID, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", id, userID).
		UpdateColumns(map[string]interface{}{
			"unread_count": 0,
			"last_read_at": at,
		})
	return mustAffect("reset unread", res)
}

func (r *PostgresConversationRepository) UnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(unread_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, translateError("unread total", err)
	}
	return total, nil
}

func (r *PostgresConversationRepository) ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]conversation.Conversation, error) {
	var conversations []conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&conversations).Error
	if err != nil {
		return nil, translateError("list conversations", err)
	}
	return conversations, nil
}

func (r *PostgresConversationRepository) UpdateSlots(ctx context.Context, id uuid.UUID, a, b uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"participant_a": a,
			"participant_b": b,
		})
	return mustAffect("update slots", res)
}

func (r *PostgresConversationRepository) AddUnread(ctx context.Context, id uuid.UUID, userID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", id, userID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", delta))
	if res.Error != nil {
		return translateError("add unread", res.Error)
	}
	if res.RowsAffected == 0 {
		row := conversation.Participant{ConversationID: id, UserID: userID, UnreadCount: delta}
		return translateError("add unread", r.db.WithContext(ctx).Create(&row).Error)
	}
	return nil
}

func (r *PostgresConversationRepository) SetLastMessage(ctx context.Context, id uuid.UUID, preview string, at *time.Time, lastSeq int64) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"last_message":      preview,
			"last_message_time": at,
			"last_seq":          lastSeq,
		})
	return mustAffect("set last message", res)
}

func (r *PostgresConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&conversation.Participant{}).Error; err != nil {
			return err
		}
		return mustAffect("delete conversation", tx.Delete(&conversation.Conversation{}, "id = ?", id))
	})
	if err != nil {
		return translateError("delete conversation", err)
	}
	return nil
}

// EnsurePairIndex drops the legacy non-unique participants index and
// creates the unique pair index. Fails while duplicate pairs remain.
func (r *PostgresConversationRepository) EnsurePairIndex(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec("DROP INDEX IF EXISTS " + legacyIndexName).Error; err != nil {
		return translateError("drop legacy index", err)
	}
	err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + pairIndexName +
		" ON conversations (participant_a, participant_b)").Error
	if err != nil {
		return translateError("create pair index", err)
	}
	return nil
}

func (r *PostgresConversationRepository) CountUnsorted(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("participant_a > participant_b").
		Count(&n).Error
	if err != nil {
		return 0, translateError("count unsorted pairs", err)
	}
	return n, nil
}
