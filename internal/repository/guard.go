package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
)

// Guarded is a conditional update: Fields are written only if the stored
// status of row ID still equals Expected. A miss is reported through
// Outcome, never as success.
type Guarded[S ~string, F any] struct {
	ID       uuid.UUID
	Expected S
	Fields   F
}

type (
	TaskGuard    = Guarded[models.TaskStatus, TaskFields]
	EscrowGuard  = Guarded[models.EscrowStatus, EscrowFields]
	DisputeGuard = Guarded[models.DisputeStatus, DisputeFields]
)

// TaskFields lists the columns a guarded task update may set. Status is
// always written; nil pointers leave the column unchanged.
type TaskFields struct {
	Status        models.TaskStatus
	DoerID        *uuid.UUID
	AcceptedAt    *time.Time
	StartedAt     *time.Time
	SubmittedAt   *time.Time
	ApprovedAt    *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	AutoReleaseAt *time.Time
}

// EscrowFields lists the columns a guarded escrow update may set. Amount
// columns are not settable.
type EscrowFields struct {
	Status        models.EscrowStatus
	DoerID        *uuid.UUID
	AutoReleaseAt *time.Time
	ReleasedAt    *time.Time
	RefundedAt    *time.Time
}

type DisputeFields struct {
	Status             models.DisputeStatus
	EscrowID           *uuid.UUID
	ResolutionType     *models.ResolutionType
	ResolvedInFavorOf  *string
	PosterRefundAmount *int64
	DoerPayoutAmount   *int64
	ResolutionNotes    *string
	ResolverID         *uuid.UUID
	ResolvedAt         *time.Time
}

// Outcome is the typed result of a conditional update.
type Outcome struct {
	Updated  bool
	Entity   string
	ID       uuid.UUID
	Expected string
}

// Err converts a missed precondition into a conflict error. It returns nil
// when the row was updated.
func (o Outcome) Err() error {
	if o.Updated {
		return nil
	}
	return apperr.Conflict(fmt.Sprintf("%s %s changed concurrently (expected %s); refetch and retry", o.Entity, o.ID, o.Expected))
}

func outcome[S ~string](entity string, id uuid.UUID, expected S, updated bool) Outcome {
	return Outcome{Updated: updated, Entity: entity, ID: id, Expected: string(expected)}
}
