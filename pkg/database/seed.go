package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/domain/user"
	"studysphere/internal/repository"
	studysphere_errors "studysphere/pkg/errors"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SeedConfig holds configuration for seeding a development database
type SeedConfig struct {
	// LegacyDuplicates also inserts a reversed duplicate conversation, the
	// shape the repair jobs clean up. Skipped once the pair index exists.
	LegacyDuplicates bool
	MessagesPerPair  int
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{LegacyDuplicates: false, MessagesPerPair: 3}
}

type SeedResult struct {
	Users         []user.User
	Conversations []conversation.Conversation
	Messages      int
}

// dev accounts deliberately cover every name shape the resolver handles
var seedUsers = []struct {
	email string
	first string
	last  string
	role  string
}{
	{"ada.lovelace@studysphere.dev", "Ada", "Lovelace", user.RoleTutor},
	{"grace.hopper@studysphere.dev", "Grace", "", user.RoleTutor},
	{"alan_turing@studysphere.dev", "", "", user.RoleStudent},
	{"katherine@studysphere.dev", "undefined", "null", user.RoleStudent},
	{"linus-t@studysphere.dev", " ", "", user.RoleStudent},
}

// Seed inserts development users, a tutor profile and a few conversations.
// Rows that already exist are reused, so running it twice is harmless.
func Seed(ctx context.Context, db *gorm.DB, cfg *SeedConfig, l *logger.Logger) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	log := l.Named("seed").Ctx(ctx)

	users := repository.NewUserRepository(db)
	profiles := repository.NewProfileRepository(db)
	result := &SeedResult{}

	for _, data := range seedUsers {
		u, err := users.GetUserByEmail(ctx, data.email)
		if errors.Is(err, studysphere_errors.ErrNotFound) {
			u = user.User{Email: data.email, FirstName: data.first, LastName: data.last, Role: data.role}
			err = users.Create(ctx, &u)
			if err == nil {
				log.Info("user seeded", zap.String("email", data.email), zap.String("user_id", u.ID.String()))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", data.email, err)
		}
		result.Users = append(result.Users, u)

		if u.Role == user.RoleTutor {
			if _, err := profiles.GetTutorProfileByUserID(ctx, u.ID); errors.Is(err, studysphere_errors.ErrNotFound) {
				p := user.TutorProfile{UserID: u.ID, Specialization: "Mathematics", Subjects: "Algebra, Calculus"}
				if err := profiles.CreateTutorProfile(ctx, &p); err != nil {
					return nil, fmt.Errorf("failed to seed tutor profile: %w", err)
				}
			} else if err != nil {
				return nil, err
			}
		}
	}

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	tutor := result.Users[0]
	for _, student := range result.Users[2:] {
		a, b := conversation.SortPair(tutor.ID, student.ID)
		conv, err := convRepo.GetByPair(ctx, a, b)
		if errors.Is(err, studysphere_errors.ErrNotFound) {
			conv = conversation.Conversation{ParticipantA: a, ParticipantB: b, Type: conversation.TypeDirect}
			if err = convRepo.Create(ctx, &conv); err == nil {
				n, seedErr := seedMessages(ctx, convRepo, msgRepo, conv, []uuid.UUID{student.ID, tutor.ID}, cfg.MessagesPerPair)
				result.Messages += n
				err = seedErr
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed conversation: %w", err)
		}
		result.Conversations = append(result.Conversations, conv)
	}

	if cfg.LegacyDuplicates && len(result.Users) > 3 {
		a, b := conversation.SortPair(tutor.ID, result.Users[3].ID)
		dup := conversation.Conversation{ParticipantA: b, ParticipantB: a, Type: conversation.TypeDirect}
		err := convRepo.Create(ctx, &dup)
		switch {
		case studysphere_errors.IsConflict(err):
			log.Info("pair index present, legacy duplicate skipped")
		case err != nil:
			return nil, fmt.Errorf("failed to seed legacy duplicate: %w", err)
		default:
			log.Info("legacy duplicate seeded", zap.String("conversation_id", dup.ID.String()))
			result.Conversations = append(result.Conversations, dup)
		}
	}

	log.Info("database seeding completed",
		zap.Int("users", len(result.Users)),
		zap.Int("conversations", len(result.Conversations)),
		zap.Int("messages", result.Messages))
	return result, nil
}

func seedMessages(ctx context.Context, convs repository.ConversationRepository, msgs repository.MessageRepository, conv conversation.Conversation, senders []uuid.UUID, count int) (int, error) {
	for i := 0; i < count; i++ {
		sender := senders[i%len(senders)]
		now := time.Now().UTC()
		m := message.Message{
			ConversationID: conv.ID,
			SenderID:       sender,
			Content:        fmt.Sprintf("Seed message %d", i+1),
			CreatedAt:      now,
		}
		seq, err := convs.RecordMessage(ctx, conv.ID, m.Preview(), now)
		if err != nil {
			return i, err
		}
		m.Seq = seq
		if err := msgs.Create(ctx, &m); err != nil {
			return i, err
		}
		if err := convs.IncrementUnread(ctx, conv.ID, sender); err != nil {
			return i, err
		}
	}
	return count, nil
}
