package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Roles a StudySphere account can hold.
const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
	RoleAdmin   = "admin"
)

// User represents the users table. Names may be blank: accounts created
// through some signup paths only carry an email.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	FirstName    string
	LastName     string
	Role         string `gorm:"not null;default:student"`
	ProfileImage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TutorProfile represents the tutor_profiles table
type TutorProfile struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User           User      `gorm:"foreignKey:UserID"`
	Specialization string
	Subjects       string
	Qualification  string
	TeachingModes  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StudentProfile represents the student_profiles table
type StudentProfile struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User      User      `gorm:"foreignKey:UserID"`
	Grade     string
	Subjects  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (p *TutorProfile) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *StudentProfile) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (User) TableName() string {
	return "users"
}

func (TutorProfile) TableName() string {
	return "tutor_profiles"
}

func (StudentProfile) TableName() string {
	return "student_profiles"
}
