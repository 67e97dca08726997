package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

// HandleApprovalNotice writes an outbox notification for an approval
// decision. Actual delivery (email, etc.) happens outside this core.
func HandleApprovalNotice(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	payload, err := tasks.ParseApprovalNoticePayload(t)
	if err != nil {
		return err
	}

	var body string
	switch payload.Decision {
	case "approved":
		body = "Votre compte a été approuvé. Bienvenue sur le forum."
	case "rejected":
		body = "L'accès à votre compte a été refusé."
	default:
		return fmt.Errorf("unknown approval decision: %q", payload.Decision)
	}

	now := time.Now().UTC()
	notification := &models.Notification{
		UserID: payload.UserID,
		Kind:   models.NotificationApprovalDecision,
		Body:   body,
		SentAt: &now,
	}
	if err := db.WithContext(ctx).Create(notification).Error; err != nil {
		logger.Error().Err(err).Str("user_id", payload.UserID).Msg("Failed to write approval notification")
		return fmt.Errorf("failed to write approval notification: %w", err)
	}

	logger.Info().
		Str("user_id", payload.UserID).
		Str("decision", payload.Decision).
		Msg("Approval notification recorded")

	return nil
}
