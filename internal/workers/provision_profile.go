package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

// HandleProvisionProfile creates the pending-approval profile for a fresh
// signup. The handler is idempotent: a retry after a partial run finds the
// existing profile and succeeds.
func HandleProvisionProfile(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	payload, err := tasks.ParseProvisionProfilePayload(t)
	if err != nil {
		return err
	}

	var user models.User
	if err := models.FindByID(db.WithContext(ctx), payload.UserID, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Identity deleted before provisioning ran; nothing to do.
			logger.Warn().Str("user_id", payload.UserID).Msg("Identity gone before provisioning, skipping")
			return nil
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	var existing models.Profile
	err = db.WithContext(ctx).Where("user_id = ?", payload.UserID).First(&existing).Error
	if err == nil {
		logger.Info().Str("user_id", payload.UserID).Msg("Profile already provisioned")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing profile: %w", err)
	}

	username := payload.Username
	if username == "" {
		username = usernameFromEmail(user.Email, payload.UserID)
	}

	profile := &models.Profile{
		UserID:   payload.UserID,
		Username: username,
		FullName: payload.FullName,
		Status:   access.StatusPendingApproval,
		Role:     access.RoleUser,
	}
	if err := db.WithContext(ctx).Create(profile).Error; err != nil {
		logger.Error().Err(err).Str("user_id", payload.UserID).Msg("Failed to provision profile")
		return fmt.Errorf("failed to provision profile: %w", err)
	}

	logger.Info().
		Str("user_id", payload.UserID).
		Str("username", username).
		Msg("Profile provisioned, awaiting approval")

	return nil
}

// usernameFromEmail derives a unique default handle when signup did not
// supply one. The ULID suffix keeps collisions from failing provisioning.
func usernameFromEmail(email, userID string) string {
	local := email
	if idx := strings.Index(email, "@"); idx > 0 {
		local = email[:idx]
	}
	local = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, local)

	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s", local, strings.ToLower(suffix))
}
