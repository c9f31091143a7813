package repository

import (
	"context"

	"studysphere/internal/domain/message"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultPageSize = 50

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	return translateError("create message", r.db.WithContext(ctx).Create(m).Error)
}

func (r *PostgresMessageRepository) GetByClientMessageID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		First(&m).Error
	if err != nil {
		return message.Message{}, translateError("get message by client id", err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}

	var msgs []message.Message
	if err := q.Order("seq DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, translateError("list messages", err)
	}

	// newest page fetched first, handed back oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) MarkReadFor(ctx context.Context, conversationID uuid.UUID, readerID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read = ?", conversationID, readerID, false).
		UpdateColumn("read", true)
	if res.Error != nil {
		return 0, translateError("mark messages read", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PostgresMessageRepository) CountByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	if err != nil {
		return 0, translateError("count messages", err)
	}
	return n, nil
}

func (r *PostgresMessageRepository) Reparent(ctx context.Context, from, to uuid.UUID, offset int64) (int64, error) {
	db := r.db.WithContext(ctx)

	// the keeper's ids win; a colliding id on the moved row is cleared
	taken := db.Model(&message.Message{}).
		Select("client_message_id").
		Where("conversation_id = ? AND client_message_id IS NOT NULL", to)
	err := db.Model(&message.Message{}).
		Where("conversation_id = ? AND client_message_id IN (?)", from, taken).
		UpdateColumn("client_message_id", nil).Error
	if err != nil {
		return 0, translateError("clear colliding client ids", err)
	}

	res := db.Model(&message.Message{}).
		Where("conversation_id = ?", from).
		UpdateColumns(map[string]interface{}{
			"conversation_id": to,
			"seq":             gorm.Expr("seq + ?", offset),
		})
	if res.Error != nil {
		return 0, translateError("reparent messages", res.Error)
	}
	return res.RowsAffected, nil
}
