package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studysphere/internal/commands"
	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/events"
	"studysphere/internal/metrics"
	"studysphere/internal/repository"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPageSize = 100

type MessageService struct {
	db            *gorm.DB
	messages      repository.MessageRepository
	conversations *ConversationService
	publisher     RealtimePublisher
	notifier      events.Notifier
	stripes       *stripedLock
	logger        *logger.Logger
	now           func() time.Time
}

func NewMessageService(db *gorm.DB, conversations *ConversationService, publisher RealtimePublisher, notifier events.Notifier, bus *commands.Bus, l *logger.Logger) *MessageService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	svc := &MessageService{
		db:            db,
		messages:      repository.NewMessageRepository(db),
		conversations: conversations,
		publisher:     publisher,
		notifier:      notifier,
		stripes:       newStripedLock(defaultStripes),
		logger:        l.Named("messages"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	svc.RegisterHandlers(bus)
	return svc
}

func (s *MessageService) RegisterHandlers(bus *commands.Bus) {
	if bus == nil {
		return
	}
	bus.Register(commands.TypeSendMessage, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		typed, ok := cmd.(commands.SendMessageCommand)
		if !ok {
			return commands.Result{}, studysphere_errors.ErrInvalidInput
		}
		msg, err := s.Send(ctx, typed)
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: msg.ID.String(), Payload: msg}, nil
	}))
}

// Send appends a message and updates the conversation preview, sequence and
// the other participant's unread counter in one transaction, then pushes it
// to live sessions. A repeated client_message_id returns the stored message
// without side effects.
func (s *MessageService) Send(ctx context.Context, cmd commands.SendMessageCommand) (message.Message, error) {
	if err := cmd.Validate(); err != nil {
		return message.Message{}, err
	}

	conversationID := cmd.ConversationID
	if conversationID == uuid.Nil {
		conv, _, err := s.conversations.FindOrCreate(ctx, cmd.SenderID, cmd.RecipientID, uuid.NullUUID{})
		if err != nil {
			return message.Message{}, err
		}
		conversationID = conv.ID
	}

	// held until the event is on every local session queue so that sessions
	// see messages of one conversation in seq order
	unlock := s.stripes.lock(conversationID)
	defer unlock()

	if cmd.ClientMessageID != "" {
		if prior, ok, err := s.findResend(ctx, conversationID, cmd); ok || err != nil {
			return prior, err
		}
	}

	var (
		msg    message.Message
		conv   conversation.Conversation
		prevAt *time.Time
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convRepo := repository.NewConversationRepository(tx)
		msgRepo := repository.NewMessageRepository(tx)

		// the row lock orders this append against sends on other instances
		// and against a maintenance merge of the conversation
		current, err := convRepo.GetByIDForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if !current.HasParticipant(cmd.SenderID) {
			return studysphere_errors.ErrNotParticipant
		}
		prevAt = current.LastMessageTime

		now := s.now()
		msg = message.Message{
			ConversationID: conversationID,
			SenderID:       cmd.SenderID,
			Content:        cmd.Content,
			CreatedAt:      now,
		}
		if cmd.ClientMessageID != "" {
			clientID := cmd.ClientMessageID
			msg.ClientMessageID = &clientID
		}

		seq, err := convRepo.RecordMessage(ctx, conversationID, msg.Preview(), now)
		if err != nil {
			return err
		}
		msg.Seq = seq

		if err := msgRepo.Create(ctx, &msg); err != nil {
			return err
		}
		if err := convRepo.IncrementUnread(ctx, conversationID, cmd.SenderID); err != nil {
			return err
		}

		conv, err = convRepo.GetByID(ctx, conversationID)
		return err
	})
	if err != nil {
		if cmd.ClientMessageID != "" && errors.Is(err, studysphere_errors.ErrAlreadyExists) {
			// same client id committed by another instance
			if prior, ok, findErr := s.findResend(ctx, conversationID, cmd); ok || findErr != nil {
				return prior, findErr
			}
		}
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return message.Message{}, err
	}

	metrics.MessagesSent.WithLabelValues("created").Inc()
	s.logger.Ctx(ctx).Info("message appended",
		zap.String("conversation_id", conversationID.String()),
		zap.String("message_id", msg.ID.String()),
		zap.Int64("seq", msg.Seq))

	s.publisher.PublishMessage(ctx, msg, conv, prevAt)
	if err := s.notifier.MessageCreated(ctx, msg, conv); err != nil {
		s.logger.Ctx(ctx).Warn("message notification failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
	return msg, nil
}

func (s *MessageService) findResend(ctx context.Context, conversationID uuid.UUID, cmd commands.SendMessageCommand) (message.Message, bool, error) {
	prior, err := s.messages.GetByClientMessageID(ctx, conversationID, cmd.ClientMessageID)
	if errors.Is(err, studysphere_errors.ErrNotFound) {
		return message.Message{}, false, nil
	}
	if err != nil {
		return message.Message{}, false, err
	}
	if prior.SenderID != cmd.SenderID {
		return message.Message{}, false, fmt.Errorf("%w: client_message_id already used", studysphere_errors.ErrInvalidInput)
	}
	metrics.MessagesSent.WithLabelValues("duplicate").Inc()
	return prior, true, nil
}

// ListMessages returns one page of a conversation, oldest first. beforeSeq
// <= 0 means the newest page.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, requesterID uuid.UUID, beforeSeq int64, limit int) ([]message.Message, error) {
	if _, err := s.conversations.Get(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.messages.ListByConversation(ctx, conversationID, beforeSeq, limit)
}
