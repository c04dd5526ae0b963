package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusAccepted   TaskStatus = "accepted"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSubmitted  TaskStatus = "submitted"
	TaskStatusApproved   TaskStatus = "approved"
	TaskStatusDisputed   TaskStatus = "disputed"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Amount bounds for a task reward, in minor currency units.
const (
	MinGrossAmount int64 = 100
	MaxGrossAmount int64 = 10_000_000
)

// Location is set only for in-person tasks.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Task is a unit of paid work. DoerID is nil exactly while Status is open
// and never changes once set.
type Task struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	GrossAmount   int64      `json:"gross_amount"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	InPerson      bool       `json:"in_person"`
	Location      *Location  `json:"location,omitempty"`
	Status        TaskStatus `json:"status"`
	PosterID      uuid.UUID  `json:"poster_id"`
	DoerID        *uuid.UUID `json:"doer_id,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	AutoReleaseAt *time.Time `json:"auto_release_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsParticipant reports whether userID is the poster or the assigned doer.
func (t *Task) IsParticipant(userID uuid.UUID) bool {
	return t.PosterID == userID || (t.DoerID != nil && *t.DoerID == userID)
}

// TaskCode derives the human-readable code shown to users.
func TaskCode(id uuid.UUID) string {
	s := id.String()
	return "TSK-" + strings.ToUpper(s[:8])
}

type Submission struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	DoerID      uuid.UUID `json:"doer_id"`
	Message     string    `json:"message"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
}
