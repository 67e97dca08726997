package workers

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

// StartReminderScheduler runs a periodic check (every minute) for the
// pending-approval reminder digest.
func StartReminderScheduler(client *asynq.Client, db *gorm.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	// Run immediately on startup, then every minute
	checkAndEnqueueReminder(client, db, logger)

	for range ticker.C {
		checkAndEnqueueReminder(client, db, logger)
	}
}

func checkAndEnqueueReminder(client *asynq.Client, db *gorm.DB, logger zerolog.Logger) {
	// Load the singleton config
	var config models.Config
	err := db.First(&config).Error

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			logger.Debug().Msg("No config found - skipping reminder check")
			return
		}
		logger.Error().Err(err).Msg("Failed to query config for reminder")
		return
	}

	// Check if a reminder schedule is configured
	if config.ReminderSchedule == "" {
		logger.Debug().Msg("No reminder schedule configured")
		return
	}

	if config.NextReminderAt != nil && config.NextReminderAt.After(time.Now()) {
		logger.Debug().
			Time("next_reminder_at", *config.NextReminderAt).
			Msg("Reminder not due yet")
		return
	}

	// Count accounts still awaiting a decision
	var pendingCount int64
	if err := db.Model(&models.Profile{}).
		Where("status = ?", access.StatusPendingApproval).
		Count(&pendingCount).Error; err != nil {
		logger.Error().Err(err).Msg("Failed to count pending profiles")
		return
	}

	if pendingCount == 0 {
		logger.Debug().Msg("No pending accounts - skipping reminder digest")
		// Still advance NextReminderAt to prevent rechecking every minute
		advanceNextReminder(db, &config, logger)
		return
	}

	task, err := tasks.NewPendingReminderTask()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create reminder task")
		return
	}

	if _, err := client.Enqueue(task, asynq.Queue("low"), asynq.Timeout(5*time.Minute)); err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue reminder task")
		return
	}

	advanceNextReminder(db, &config, logger)

	logger.Info().
		Int64("pending_count", pendingCount).
		Str("reminder_schedule", config.ReminderSchedule).
		Msg("Pending-approval reminder task enqueued")
}

func advanceNextReminder(db *gorm.DB, config *models.Config, logger zerolog.Logger) {
	now := time.Now()
	next := calculateNextReminderTime(config.ReminderSchedule, now)
	if next == nil {
		return
	}
	if err := db.Model(config).Update("next_reminder_at", next).Error; err != nil {
		logger.Error().Err(err).Msg("Failed to update next_reminder_at")
		return
	}
	logger.Debug().Time("next_reminder_at", *next).Msg("Updated next_reminder_at")
}

// calculateNextReminderTime calculates the next reminder time from a cron
// schedule (standard 5-field format).
func calculateNextReminderTime(cronExpr string, from time.Time) *time.Time {
	if cronExpr == "" {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil
	}

	next := schedule.Next(from)
	return &next
}
