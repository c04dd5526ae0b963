package models

import "github.com/google/uuid"

// Notification types.
const (
	NotifyTaskAccepted    = "task_accepted"
	NotifyTaskSubmitted   = "task_submitted"
	NotifyPaymentReleased = "payment_released"
	NotifyTaskDisputed    = "task_disputed"
	NotifyDisputeResolved = "dispute_resolved"
	NotifyTaskCancelled   = "task_cancelled"
)

// Notification is handed to the delivery sink after a successful mutation.
type Notification struct {
	UserID  uuid.UUID      `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Payload map[string]any `json:"payload,omitempty"`
}
