package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusInEscrow EscrowStatus = "in_escrow"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusDisputed EscrowStatus = "disputed"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// IsSettled reports whether the escrow reached one of its two terminal states.
func (s EscrowStatus) IsSettled() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// EscrowTransaction is the monetary shadow of exactly one task. Amount fields
// are written once at creation; Status doubles as the optimistic-lock column.
type EscrowTransaction struct {
	ID            uuid.UUID       `json:"id"`
	TaskID        uuid.UUID       `json:"task_id"`
	PosterID      uuid.UUID       `json:"poster_id"`
	DoerID        *uuid.UUID      `json:"doer_id,omitempty"`
	GrossAmount   int64           `json:"gross_amount"`
	PlatformFee   int64           `json:"platform_fee"`
	NetPayout     int64           `json:"net_payout"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	Status        EscrowStatus    `json:"status"`
	AutoReleaseAt *time.Time      `json:"auto_release_at,omitempty"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AmountsBalance checks gross = fee + net.
func (e *EscrowTransaction) AmountsBalance() bool {
	return e.GrossAmount == e.PlatformFee+e.NetPayout && e.PlatformFee >= 0 && e.NetPayout >= 0
}
