// Package directory implements administrative account provisioning:
// creating an identity and an approved profile in one call, deleting an
// identity (profile removal cascades), and approval/role changes.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/assert"
	"github.com/agorad-dev/agorad/internal/auth"
	"github.com/agorad-dev/agorad/internal/models"
)

var (
	// ErrSelfDeletion is returned when an administrator tries to delete
	// their own account.
	ErrSelfDeletion = errors.New("cannot delete your own account")
	// ErrSelfDemotion is returned when an administrator tries to lower
	// their own role.
	ErrSelfDemotion = errors.New("cannot lower your own role")
	// ErrUserNotFound is returned when the target identity does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRole is returned for an unknown role value.
	ErrInvalidRole = errors.New("invalid role")
	// ErrHandleTaken is returned when a profile edit would reuse another
	// account's username.
	ErrHandleTaken = errors.New("username already taken")
)

type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "directory_service").Logger(),
	}
}

// CreateUserParams describes an administrator-provisioned account
type CreateUserParams struct {
	Email    string
	Password string
	FullName string
	Username string
	Role     access.Role
	ActorID  string
}

// CreateUser creates an identity and an approved profile in one
// transaction. Admin-created accounts skip the approval queue.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error) {
	if _, ok := access.ParseRole(string(params.Role)); !ok {
		return nil, ErrInvalidRole
	}

	passwordHash, err := auth.HashPassword(params.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:         params.Email,
		PasswordHash:  passwordHash,
		EmailVerified: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create identity: %w", err)
		}

		profile := &models.Profile{
			UserID:   user.ID,
			Username: params.Username,
			FullName: params.FullName,
			Status:   access.StatusApproved,
			Role:     params.Role,
		}
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("email", params.Email).Msg("Failed to provision user")
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Str("role", string(params.Role)).
		Str("created_by", params.ActorID).
		Msg("User provisioned")

	return user, nil
}

// DeleteUser removes an identity; the profile is removed in the same
// transaction (the schema-level cascade is not relied on across drivers).
// Self-deletion is rejected before touching storage.
func (s *Service) DeleteUser(ctx context.Context, userID, actorID string) error {
	if userID == actorID {
		return ErrSelfDeletion
	}

	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), userID, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.Profile{}).Error; err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		if err := tx.Delete(&user).Error; err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to delete user")
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("deleted_by", actorID).
		Msg("User deleted")

	return nil
}

// SetStatus applies an approval decision to a profile.
func (s *Service) SetStatus(ctx context.Context, userID string, status access.Status, actorID string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&profile).Update("status", status).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update status")
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	profile.Status = status

	s.logger.Info().
		Str("user_id", userID).
		Str("status", string(status)).
		Str("decided_by", actorID).
		Msg("Approval status updated")

	return &profile, nil
}

// SetRole changes a profile's role. An administrator lowering their own
// role is rejected client-side of storage, so a lone admin cannot lock
// themselves out.
func (s *Service) SetRole(ctx context.Context, userID string, role access.Role, actorID string) (*models.Profile, error) {
	parsed, ok := access.ParseRole(string(role))
	if !ok {
		return nil, ErrInvalidRole
	}

	var profile models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if userID == actorID {
		was := access.CapabilitiesFor(profile.Role)
		becomes := access.CapabilitiesFor(parsed)
		if was.CanAdminister && !becomes.CanAdminister {
			return nil, ErrSelfDemotion
		}
	}

	if err := s.db.WithContext(ctx).Model(&profile).Update("role", parsed).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update role")
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	profile.Role = parsed

	s.logger.Info().
		Str("user_id", userID).
		Str("role", string(parsed)).
		Str("changed_by", actorID).
		Msg("Role updated")

	return &profile, nil
}

// UpdateProfileParams carries a partial profile edit. Nil fields are left
// untouched.
type UpdateProfileParams struct {
	Username  *string
	FullName  *string
	AvatarURL *string
}

// UpdateProfile applies a partial edit to a profile's display fields.
func (s *Service) UpdateProfile(ctx context.Context, userID string, params UpdateProfileParams, actorID string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	updates := map[string]any{}
	if params.Username != nil && *params.Username != profile.Username {
		var clashes int64
		if err := s.db.WithContext(ctx).Model(&models.Profile{}).
			Where("username = ? AND user_id <> ?", *params.Username, userID).
			Count(&clashes).Error; err != nil {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
		if clashes > 0 {
			return nil, ErrHandleTaken
		}
		updates["username"] = *params.Username
	}
	if params.FullName != nil {
		updates["full_name"] = *params.FullName
	}
	if params.AvatarURL != nil {
		updates["avatar_url"] = *params.AvatarURL
	}
	if len(updates) == 0 {
		return &profile, nil
	}

	if err := s.db.WithContext(ctx).Model(&profile).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update profile")
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if v, ok := updates["username"]; ok {
		profile.Username = v.(string)
	}
	if v, ok := updates["full_name"]; ok {
		profile.FullName = v.(string)
	}
	if v, ok := updates["avatar_url"]; ok {
		profile.AvatarURL = v.(string)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("edited_by", actorID).
		Msg("Profile updated")

	return &profile, nil
}

// PendingProfiles lists profiles still awaiting an approval decision,
// oldest first.
func (s *Service) PendingProfiles(ctx context.Context) ([]models.Profile, error) {
	var pending []models.Profile
	if err := s.db.WithContext(ctx).
		Where("status = ?", access.StatusPendingApproval).
		Order("created_at ASC").
		Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending profiles: %w", err)
	}
	return pending, nil
}

// GenerateTempPassword returns a URL-safe random password of the given
// length for admin-provisioned accounts.
func (s *Service) GenerateTempPassword(size int) (string, error) {
	password, err := genRandomString(size)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	assert.Length(password, size)
	return password, nil
}

func genRandomString(size int) (string, error) {
	// Base64 encoding increases size by ~33%, so fewer raw bytes are needed
	numBytes := (size * 3) / 4
	if (size*3)%4 != 0 {
		numBytes++
	}

	raw := make([]byte, numBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	encoded := base64.URLEncoding.EncodeToString(raw)
	encoded = strings.TrimRight(encoded, "=")
	if len(encoded) > size {
		encoded = encoded[:size]
	}

	return encoded, nil
}
