package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet event types.
type WalletEventType string

const (
	WalletEventEscrowRelease     WalletEventType = "escrow_release"
	// Full refund of the gross amount to the poster when a task is cancelled.
	WalletEventEscrowRefund      WalletEventType = "escrow_refund"
	WalletEventDisputeResolution WalletEventType = "dispute_resolution"
	WalletEventDisputeRefund     WalletEventType = "dispute_refund"
	WalletEventAdminCredit       WalletEventType = "admin_credit"
	WalletEventSandboxDeposit    WalletEventType = "sandbox_deposit"
	WalletEventSandboxWithdrawal WalletEventType = "sandbox_withdrawal"
)

// WalletEvent is an append-only ledger row. Amount is signed; for one user,
// BalanceAfter = BalanceBefore + Amount and each row's BalanceBefore equals
// the previous row's BalanceAfter. Seq orders rows.
type WalletEvent struct {
	ID            uuid.UUID       `json:"id"`
	Seq           int64           `json:"seq"`
	UserID        uuid.UUID       `json:"user_id"`
	EventType     WalletEventType `json:"event_type"`
	Amount        int64           `json:"amount"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	TaskID        *uuid.UUID      `json:"task_id,omitempty"`
	EscrowID      *uuid.UUID      `json:"escrow_id,omitempty"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
