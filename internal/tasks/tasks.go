package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Profile provisioning after signup (the backend-side signup hook)
	TypeProvisionProfile = "profile:provision"
	// Approval decision notification outbox write
	TypeApprovalNotice = "notify:approval"
	// Pending-approval reminder digest for moderators
	TypePendingReminder = "notify:pending_reminder"
)

// ProvisionProfilePayload carries the signup details needed to create the
// pending profile for a new identity.
type ProvisionProfilePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// ApprovalNoticePayload carries an approval decision for the outbox.
type ApprovalNoticePayload struct {
	UserID   string `json:"user_id"`
	Decision string `json:"decision"` // "approved" or "rejected"
}

// NewProvisionProfileTask creates a task to provision a pending profile
func NewProvisionProfileTask(userID, username, fullName string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProvisionProfilePayload{
		UserID:   userID,
		Username: username,
		FullName: fullName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeProvisionProfile, payload), nil
}

// NewApprovalNoticeTask creates a task to record an approval decision
// notification
func NewApprovalNoticeTask(userID, decision string) (*asynq.Task, error) {
	payload, err := json.Marshal(ApprovalNoticePayload{
		UserID:   userID,
		Decision: decision,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeApprovalNotice, payload), nil
}

// NewPendingReminderTask creates a task to write the pending-approval
// reminder digest
func NewPendingReminderTask() (*asynq.Task, error) {
	return asynq.NewTask(TypePendingReminder, nil), nil
}

// ParseProvisionProfilePayload parses a provisioning payload from an Asynq task
func ParseProvisionProfilePayload(task *asynq.Task) (ProvisionProfilePayload, error) {
	var payload ProvisionProfilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

// ParseApprovalNoticePayload parses an approval notice payload from an Asynq task
func ParseApprovalNoticePayload(task *asynq.Task) (ApprovalNoticePayload, error) {
	var payload ApprovalNoticePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
