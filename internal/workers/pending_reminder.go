package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/models"
)

// HandlePendingReminder writes a digest notification to every
// moderation-capable account listing how many signups still await a
// decision.
func HandlePendingReminder(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	var pendingCount int64
	if err := db.WithContext(ctx).Model(&models.Profile{}).
		Where("status = ?", access.StatusPendingApproval).
		Count(&pendingCount).Error; err != nil {
		return fmt.Errorf("failed to count pending profiles: %w", err)
	}

	if pendingCount == 0 {
		logger.Info().Msg("No pending accounts at digest time, skipping")
		return nil
	}

	var moderators []models.Profile
	if err := db.WithContext(ctx).
		Where("role IN ?", []access.Role{access.RoleModerator, access.RoleAdmin, access.RoleSuperAdmin}).
		Where("status = ?", access.StatusApproved).
		Find(&moderators).Error; err != nil {
		return fmt.Errorf("failed to list moderators: %w", err)
	}

	now := time.Now().UTC()
	body := fmt.Sprintf("%d compte(s) en attente d'approbation.", pendingCount)
	for _, moderator := range moderators {
		notification := &models.Notification{
			UserID: moderator.UserID,
			Kind:   models.NotificationPendingReminder,
			Body:   body,
			SentAt: &now,
		}
		if err := db.WithContext(ctx).Create(notification).Error; err != nil {
			logger.Error().Err(err).Str("user_id", moderator.UserID).Msg("Failed to write reminder notification")
			return fmt.Errorf("failed to write reminder notification: %w", err)
		}
	}

	if err := db.WithContext(ctx).Model(&models.Config{}).
		Where("1 = 1").
		Update("last_reminder_at", &now).Error; err != nil {
		logger.Warn().Err(err).Msg("Failed to update last_reminder_at")
	}

	logger.Info().
		Int64("pending_count", pendingCount).
		Int("moderators", len(moderators)).
		Msg("Pending-approval reminder digest recorded")

	return nil
}
