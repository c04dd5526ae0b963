package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCaptain Role = "captain"
	RoleAce     Role = "ace"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// SystemUserID is the actor recorded for scheduled work such as auto-release.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Profile is a marketplace user. WalletBalance is a cache of the latest
// WalletEvent.BalanceAfter and is only written by the ledger.
type Profile struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	WalletBalance  int64     `json:"wallet_balance"`
	CompletedTasks int       `json:"completed_tasks"`
	IsFrozen       bool      `json:"is_frozen"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// SystemActor returns the actor used by scheduled jobs.
func SystemActor() Actor {
	return Actor{UserID: SystemUserID, Role: RoleSystem}
}
