// Package testutil builds throwaway stores for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"studysphere/internal/domain/user"
	"studysphere/internal/repository"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with the full schema,
// prepared the way the API prepares it. withPairIndex false leaves out the
// unique pair index for tests that need legacy duplicate rows.
func NewDB(t *testing.T, withPairIndex bool) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get generic database object: %v", err)
	}
	// one connection keeps the shared in-memory database alive and
	// serialises writers the way sqlite expects
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	migrate := repository.PrepareServingSchema
	if !withPairIndex {
		migrate = func(ctx context.Context, db *gorm.DB) error {
			return repository.InitSchema(ctx, db, false)
		}
	}
	if err := migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

// CreateUser inserts a user with the given names, email and role.
func CreateUser(t *testing.T, db *gorm.DB, first, last, email, role string) user.User {
	t.Helper()
	u := user.User{FirstName: first, LastName: last, Email: email, Role: role}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return u
}
