package repository

import (
	"context"
	"errors"
	"fmt"

	"studysphere/internal/domain/conversation"
	"studysphere/internal/domain/message"
	"studysphere/internal/domain/user"
	studysphere_errors "studysphere/pkg/errors"

	"gorm.io/gorm"
)

// Models lists every table owned by the conversation core.
func Models() []interface{} {
	return []interface{}{
		&user.User{},
		&user.TutorProfile{},
		&user.StudentProfile{},
		&conversation.Conversation{},
		&conversation.Participant{},
		&message.Message{},
	}
}

// ErrPairRepairRequired means stored conversations would break the unique
// pair index: duplicate or unsorted pairs remain.
var ErrPairRepairRequired = errors.New("conversation pairs need repair: run `maintenance repair-all`")

// InitSchema runs gorm auto-migration. The unique pair index is not part of
// it: legacy data may still hold duplicate pairs, so it is created by the
// maintenance run (or withPairIndex on a clean database).
func InitSchema(ctx context.Context, db *gorm.DB, withPairIndex bool) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if !withPairIndex {
		return nil
	}
	return NewConversationRepository(db).EnsurePairIndex(ctx)
}

// PrepareServingSchema migrates the tables and requires the unique pair
// index, which is what keeps one conversation per pair under concurrent
// creation. It refuses a database that still needs the maintenance repair.
func PrepareServingSchema(ctx context.Context, db *gorm.DB) error {
	if err := InitSchema(ctx, db, false); err != nil {
		return err
	}
	repo := NewConversationRepository(db)
	unsorted, err := repo.CountUnsorted(ctx)
	if err != nil {
		return err
	}
	if unsorted > 0 {
		return fmt.Errorf("%w (%d unsorted)", ErrPairRepairRequired, unsorted)
	}
	if err := repo.EnsurePairIndex(ctx); err != nil {
		if errors.Is(err, studysphere_errors.ErrAlreadyExists) {
			return fmt.Errorf("%w (duplicate pairs)", ErrPairRepairRequired)
		}
		return err
	}
	return nil
}

// HasPairIndex reports whether the unique pair index is in place.
func HasPairIndex(db *gorm.DB) bool {
	return db.Migrator().HasIndex(&conversation.Conversation{}, pairIndexName)
}

// CheckPairIndex fails when the unique pair index is missing.
func CheckPairIndex(ctx context.Context, db *gorm.DB) error {
	if !HasPairIndex(db.WithContext(ctx)) {
		return fmt.Errorf("unique index %s missing", pairIndexName)
	}
	return nil
}
