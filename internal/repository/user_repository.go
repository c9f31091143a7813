package repository

import (
	"context"
	"strings"

	"studysphere/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	return translateError("create user", r.db.WithContext(ctx).Create(u).Error)
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return user.User{}, translateError("get user", err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return user.User{}, translateError("get user by email", err)
	}
	return u, nil
}

func (r *PostgresUserRepository) ListAfter(ctx context.Context, afterID uuid.UUID, limit int) ([]user.User, error) {
	var users []user.User
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, translateError("list users", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) UpdateNames(ctx context.Context, id uuid.UUID, firstName, lastName string) error {
	res := r.db.WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
		})
	return mustAffect("update user names", res)
}

type PostgresProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) CreateTutorProfile(ctx context.Context, p *user.TutorProfile) error {
	return translateError("create tutor profile", r.db.WithContext(ctx).Omit("User").Create(p).Error)
}

func (r *PostgresProfileRepository) CreateStudentProfile(ctx context.Context, p *user.StudentProfile) error {
	return translateError("create student profile", r.db.WithContext(ctx).Omit("User").Create(p).Error)
}

func (r *PostgresProfileRepository) GetTutorProfileByID(ctx context.Context, id uuid.UUID) (user.TutorProfile, error) {
	var p user.TutorProfile
	if err := r.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&p).Error; err != nil {
		return user.TutorProfile{}, translateError("get tutor profile", err)
	}
	return p, nil
}

func (r *PostgresProfileRepository) GetTutorProfileByUserID(ctx context.Context, userID uuid.UUID) (user.TutorProfile, error) {
	var p user.TutorProfile
	if err := r.db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&p).Error; err != nil {
		return user.TutorProfile{}, translateError("get tutor profile by user", err)
	}
	return p, nil
}

func (r *PostgresProfileRepository) GetStudentProfileByUserID(ctx context.Context, userID uuid.UUID) (user.StudentProfile, error) {
	var p user.StudentProfile
	if err := r.db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&p).Error; err != nil {
		return user.StudentProfile{}, translateError("get student profile by user", err)
	}
	return p, nil
}
