package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Config represents the global configuration for the forum deployment.
// This is a singleton model (only one row should exist).
type Config struct {
	BaseModel
	// Authentication configuration
	JWTSecret string `json:"-" gorm:"type:varchar(64);not null"` // Auto-generated on first setup (64 hex chars)

	// Forum configuration
	SiteName   string `json:"site_name" gorm:"not null;default:'Agora'"`
	SignupOpen bool   `json:"signup_open" gorm:"not null;default:true"` // If false, only admins can create accounts

	// Pending-approval reminder configuration
	ReminderSchedule string     `json:"reminder_schedule"` // Cron expression, e.g. "0 9 * * *" (9am daily), empty = no reminders
	LastReminderAt   *time.Time `json:"last_reminder_at"`  // When the last reminder digest was written
	NextReminderAt   *time.Time `json:"next_reminder_at"`  // Calculated from cron schedule
}

// User represents an identity record: credentials and email only. Display
// information and standing live on the Profile.
type User struct {
	BaseModel
	Email         string    `json:"email" gorm:"unique;not null"`
	PasswordHash  string    `json:"-" gorm:"not null"`
	EmailVerified bool      `json:"email_verified" gorm:"not null;default:false"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Profile *Profile `json:"profile,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Profile is the application-owned record for an identity, keyed 1:1 by
// user id. It exists for every identity except transiently right after
// signup (provisioning is asynchronous); absence after resolution completes
// is an error condition, not a valid steady state.
type Profile struct {
	BaseModel
	UserID    string        `json:"user_id" gorm:"unique;not null"`
	Username  string        `json:"username" gorm:"unique;not null"`
	FullName  string        `json:"full_name"`
	AvatarURL string        `json:"avatar_url"`
	Status    access.Status `json:"status" gorm:"type:varchar(20);not null;default:'pending_approval'"`
	Role      access.Role   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	UpdatedAt time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// ToAccess converts the stored record to the guard-facing shape
func (p *Profile) ToAccess() *access.Profile {
	return &access.Profile{
		UserID:    p.UserID,
		Username:  p.Username,
		FullName:  p.FullName,
		AvatarURL: p.AvatarURL,
		Status:    p.Status,
		Role:      p.Role,
	}
}

// Section represents a forum section (a category of discussion)
type Section struct {
	BaseModel
	Title       string    `json:"title" gorm:"not null"`
	Slug        string    `json:"slug" gorm:"unique;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Position    int       `json:"position" gorm:"not null;default:0"`
	CreatedByID string    `json:"created_by_id"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	CreatedBy *User `json:"created_by,omitempty" gorm:"foreignKey:CreatedByID;references:ID;constraint:OnDelete:SET NULL"`
}

// Report statuses
const (
	ReportStatusOpen     = "open"
	ReportStatusResolved = "resolved"
)

// Report represents a moderation report raised by an approved visitor
type Report struct {
	BaseModel
	SectionID    string     `json:"section_id"`
	ReporterID   string     `json:"reporter_id" gorm:"not null"`
	Subject      string     `json:"subject" gorm:"not null"`
	Body         string     `json:"body" gorm:"type:text"`
	Status       string     `json:"status" gorm:"not null;default:'open'"`
	ResolvedByID string     `json:"resolved_by_id"`
	ResolvedAt   *time.Time `json:"resolved_at"`

	// Relationships
	Section  *Section `json:"section,omitempty" gorm:"foreignKey:SectionID;constraint:OnDelete:SET NULL"`
	Reporter *User    `json:"reporter,omitempty" gorm:"foreignKey:ReporterID;references:ID;constraint:OnDelete:CASCADE"`
}

// Notification kinds
const (
	NotificationApprovalDecision = "approval_decision"
	NotificationPendingReminder  = "pending_reminder"
)

// Notification is an outbox row written by background workers (approval
// decisions, pending-approval digests). Delivery happens externally.
type Notification struct {
	BaseModel
	UserID string     `json:"user_id" gorm:"not null;index"`
	Kind   string     `json:"kind" gorm:"not null"`
	Body   string     `json:"body" gorm:"type:text"`
	SentAt *time.Time `json:"sent_at"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &Profile{}, &Config{}, &Section{}, &Report{}, &Notification{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
