package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studysphere/internal/commands"
	"studysphere/internal/domain/conversation"
	"studysphere/internal/identity"
	"studysphere/internal/metrics"
	"studysphere/internal/repository"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) identity.ResolvedIdentity
}

// TutorInfo is the tutor context a conversation was opened from.
type TutorInfo struct {
	ProfileID      uuid.UUID
	UserID         uuid.UUID
	Specialization string
	Subjects       string
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation conversation.Conversation
	OtherUser    identity.ResolvedIdentity
	UnreadCount  int
	TutorInfo    *TutorInfo
}

type ConversationService struct {
	db        *gorm.DB
	repo      repository.ConversationRepository
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	resolver  IdentityResolver
	publisher RealtimePublisher
	logger    *logger.Logger
	now       func() time.Time
}

func NewConversationService(db *gorm.DB, resolver IdentityResolver, publisher RealtimePublisher, bus *commands.Bus, l *logger.Logger) *ConversationService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	svc := &ConversationService{
		db:        db,
		repo:      repository.NewConversationRepository(db),
		users:     repository.NewUserRepository(db),
		profiles:  repository.NewProfileRepository(db),
		resolver:  resolver,
		publisher: publisher,
		logger:    l.Named("conversations"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.RegisterHandlers(bus)
	return svc
}

func (s *ConversationService) RegisterHandlers(bus *commands.Bus) {
	if bus == nil {
		return
	}
	bus.Register(commands.TypeFindOrCreate, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		typed, ok := cmd.(commands.FindOrCreateCommand)
		if !ok {
			return commands.Result{}, studysphere_errors.ErrInvalidInput
		}
		conv, _, err := s.FindOrCreate(ctx, typed.UserID, typed.OtherUserID, typed.TutorProfileID)
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: conv.ID.String(), Payload: conv}, nil
	}))
	bus.Register(commands.TypeMarkRead, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		typed, ok := cmd.(commands.MarkReadCommand)
		if !ok {
			return commands.Result{}, studysphere_errors.ErrInvalidInput
		}
		if err := s.MarkRead(ctx, typed.ConversationID, typed.UserID); err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: typed.ConversationID.String()}, nil
	}))
}

// FindOrCreate returns the single conversation between userID and otherID,
// creating it on first contact. created is false when the pair already had
// a conversation, including when a concurrent caller won the insert.
func (s *ConversationService) FindOrCreate(ctx context.Context, userID, otherID uuid.UUID, tutorProfileID uuid.NullUUID) (conversation.Conversation, bool, error) {
	cmd := commands.FindOrCreateCommand{UserID: userID, OtherUserID: otherID, TutorProfileID: tutorProfileID}
	if err := cmd.Validate(); err != nil {
		return conversation.Conversation{}, false, err
	}
	if _, err := s.users.GetUserByID(ctx, otherID); err != nil {
		if errors.Is(err, studysphere_errors.ErrNotFound) {
			return conversation.Conversation{}, false, fmt.Errorf("%w: user %s", studysphere_errors.ErrNotFound, otherID)
		}
		return conversation.Conversation{}, false, err
	}
	if tutorProfileID.Valid {
		if _, err := s.profiles.GetTutorProfileByID(ctx, tutorProfileID.UUID); err != nil {
			if errors.Is(err, studysphere_errors.ErrNotFound) {
				return conversation.Conversation{}, false, fmt.Errorf("%w: tutor profile %s", studysphere_errors.ErrNotFound, tutorProfileID.UUID)
			}
			return conversation.Conversation{}, false, err
		}
	}

	a, b := conversation.SortPair(userID, otherID)
	existing, err := s.repo.GetByPair(ctx, a, b)
	switch {
	case err == nil:
		metrics.ConversationsCreated.WithLabelValues("existing").Inc()
		conv, err := s.fillContext(ctx, existing, tutorProfileID)
		return conv, false, err
	case !errors.Is(err, studysphere_errors.ErrNotFound):
		return conversation.Conversation{}, false, err
	}

	conv := conversation.Conversation{
		ParticipantA:   a,
		ParticipantB:   b,
		Type:           conversation.TypeDirect,
		TutorProfileID: tutorProfileID,
	}
	if tutorProfileID.Valid {
		conv.Type = conversation.TypeTutor
	}

	err = s.repo.Create(ctx, &conv)
	if studysphere_errors.IsConflict(err) {
		// another request created the pair first
		winner, getErr := s.repo.GetByPair(ctx, a, b)
		if getErr != nil {
			return conversation.Conversation{}, false, getErr
		}
		metrics.ConversationsCreated.WithLabelValues("race").Inc()
		s.logger.Ctx(ctx).Info("conversation create lost race",
			zap.String("conversation_id", winner.ID.String()))
		winner, err = s.fillContext(ctx, winner, tutorProfileID)
		return winner, false, err
	}
	if err != nil {
		return conversation.Conversation{}, false, err
	}

	metrics.ConversationsCreated.WithLabelValues("created").Inc()
	s.logger.Ctx(ctx).Info("conversation created",
		zap.String("conversation_id", conv.ID.String()),
		zap.String("type", conv.Type))
	return conv, true, nil
}

// fillContext stores the tutor context on a conversation that has none.
// An existing context is never replaced.
func (s *ConversationService) fillContext(ctx context.Context, conv conversation.Conversation, tutorProfileID uuid.NullUUID) (conversation.Conversation, error) {
	if !tutorProfileID.Valid || conv.TutorProfileID.Valid {
		return conv, nil
	}
	if err := s.repo.FillContext(ctx, conv.ID, conversation.TypeTutor, tutorProfileID.UUID); err != nil {
		return conversation.Conversation{}, err
	}
	return s.repo.GetByID(ctx, conv.ID)
}

// Get returns a conversation the user takes part in.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return conversation.Conversation{}, studysphere_errors.ErrForbidden
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently updated
// first, each labelled with the other participant. Conversations whose
// other participant cannot be identified are left out.
func (s *ConversationService) ListForUser(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	convs, err := s.repo.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		otherID := conv.OtherParticipant(userID)
		if otherID == uuid.Nil {
			s.logger.Ctx(ctx).Warn("conversation has no other participant",
				zap.String("conversation_id", conv.ID.String()))
			continue
		}
		other := s.resolver.Resolve(ctx, otherID)
		if !other.Found {
			s.logger.Ctx(ctx).Warn("conversation participant not found",
				zap.String("conversation_id", conv.ID.String()),
				zap.String("participant_id", otherID.String()))
			continue
		}

		summaries = append(summaries, ConversationSummary{
			Conversation: conv,
			OtherUser:    other,
			UnreadCount:  conv.UnreadFor(userID),
			TutorInfo:    s.tutorInfo(ctx, conv),
		})
	}
	return summaries, nil
}

func (s *ConversationService) tutorInfo(ctx context.Context, conv conversation.Conversation) *TutorInfo {
	if !conv.TutorProfileID.Valid {
		return nil
	}
	profile, err := s.profiles.GetTutorProfileByID(ctx, conv.TutorProfileID.UUID)
	if err != nil {
		if !errors.Is(err, studysphere_errors.ErrNotFound) {
			s.logger.Ctx(ctx).Warn("tutor profile lookup failed", zap.Error(err))
		}
		return nil
	}
	return &TutorInfo{
		ProfileID:      profile.ID,
		UserID:         profile.UserID,
		Specialization: profile.Specialization,
		Subjects:       profile.Subjects,
	}
}

// MarkRead zeroes userID's unread counter and flags the messages sent to
// them as read. Calling it again changes nothing.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	readAt := s.now()
	var flipped int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convRepo := repository.NewConversationRepository(tx)
		msgRepo := repository.NewMessageRepository(tx)

		conv, err := convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(userID) {
			return studysphere_errors.ErrNotParticipant
		}
		if err := convRepo.ResetUnread(ctx, conversationID, userID, readAt); err != nil {
			return err
		}
		flipped, err = msgRepo.MarkReadFor(ctx, conversationID, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Ctx(ctx).Debug("conversation read",
		zap.String("conversation_id", conversationID.String()),
		zap.Int64("messages", flipped))
	s.publisher.PublishRead(ctx, conversationID, userID, readAt)
	return nil
}

// UnreadTotal is the user's badge count across every conversation.
func (s *ConversationService) UnreadTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.UnreadTotal(ctx, userID)
}
