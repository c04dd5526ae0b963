package models

import (
	"time"

	"github.com/google/uuid"
)

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusEscalated   DisputeStatus = "escalated"
	DisputeStatusResolved    DisputeStatus = "resolved"
)

type ResolutionType string

const (
	ResolutionFullRelease ResolutionType = "full_release"
	ResolutionFullRefund  ResolutionType = "full_refund"
	ResolutionSplit       ResolutionType = "split"
)

func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionFullRelease, ResolutionFullRefund, ResolutionSplit:
		return true
	}
	return false
}

const (
	FavorDoer   = "doer"
	FavorPoster = "poster"
	FavorSplit  = "split"
)

// Dispute is never deleted. Resolution fields are written once, at resolution.
type Dispute struct {
	ID                 uuid.UUID       `json:"id"`
	TaskID             uuid.UUID       `json:"task_id"`
	EscrowID           *uuid.UUID      `json:"escrow_id,omitempty"`
	RaisedBy           uuid.UUID       `json:"raised_by"`
	RaisedByRole       Role            `json:"raised_by_role"`
	Reason             string          `json:"reason"`
	Description        string          `json:"description"`
	Status             DisputeStatus   `json:"status"`
	ResolutionType     *ResolutionType `json:"resolution_type,omitempty"`
	ResolvedInFavorOf  *string         `json:"resolved_in_favor_of,omitempty"`
	PosterRefundAmount *int64          `json:"poster_refund_amount,omitempty"`
	DoerPayoutAmount   *int64          `json:"doer_payout_amount,omitempty"`
	ResolutionNotes    string          `json:"resolution_notes,omitempty"`
	ResolverID         *uuid.UUID      `json:"resolver_id,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
