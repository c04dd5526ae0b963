package models

import (
	"time"

	"github.com/google/uuid"
)

// Task event types written to the audit trail.
const (
	TaskEventCreated         = "task_created"
	TaskEventAccepted        = "task_accepted"
	TaskEventStarted         = "task_started"
	TaskEventSubmitted       = "task_submitted"
	TaskEventApproved        = "task_approved"
	TaskEventPaymentReleased = "payment_released"
	TaskEventAutoReleased    = "payment_auto_released"
	TaskEventForceCompleted  = "task_force_completed"
	TaskEventDisputed        = "task_disputed"
	TaskEventDisputeResolved = "dispute_resolved"
	TaskEventCancelled       = "task_cancelled"
)

// TaskEvent is append-only; rows are never mutated or deleted.
type TaskEvent struct {
	ID        uuid.UUID      `json:"id"`
	TaskID    uuid.UUID      `json:"task_id"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	ActorRole Role           `json:"actor_role"`
	EventType string         `json:"event_type"`
	OldState  string         `json:"old_state,omitempty"`
	NewState  string         `json:"new_state,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Admin action types.
const (
	AdminActionResolveDispute = "resolve_dispute"
	AdminActionReviewDispute  = "review_dispute"
	AdminActionForceComplete  = "force_complete"
	AdminActionWalletCredit   = "wallet_credit"
)

type AdminAction struct {
	ID         uuid.UUID      `json:"id"`
	AdminID    uuid.UUID      `json:"admin_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   uuid.UUID      `json:"target_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
