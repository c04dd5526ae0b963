package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

// Reader is the subset of repository.Tx reconciliation reads.
type Reader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	ListProfileIDs(ctx context.Context) ([]uuid.UUID, error)
	ListWalletEvents(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error)
	ListSettledEscrowsWithoutWalletEvent(ctx context.Context) ([]*models.EscrowTransaction, error)
}

// Verify replays a user's events from zero and checks the chain and the
// cached balance. A break is an invariant violation.
func Verify(ctx context.Context, r Reader, userID uuid.UUID) error {
	p, err := r.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile %s: %w", userID, err)
	}
	events, err := r.ListWalletEvents(ctx, userID)
	if err != nil {
		return fmt.Errorf("list wallet events %s: %w", userID, err)
	}

	var running int64
	for _, e := range events {
		if e.BalanceBefore != running {
			return apperr.Invariant("wallet %s event %d: balance_before %d, previous balance_after %d", userID, e.Seq, e.BalanceBefore, running)
		}
		if e.BalanceAfter != e.BalanceBefore+e.Amount {
			return apperr.Invariant("wallet %s event %d: %d + %d != %d", userID, e.Seq, e.BalanceBefore, e.Amount, e.BalanceAfter)
		}
		if e.BalanceAfter < 0 {
			return apperr.Invariant("wallet %s event %d: negative balance %d", userID, e.Seq, e.BalanceAfter)
		}
		running = e.BalanceAfter
	}
	if p.WalletBalance != running {
		return apperr.Invariant("wallet %s: cached balance %d, ledger balance %d", userID, p.WalletBalance, running)
	}
	return nil
}

// Finding is one inconsistency found by Reconcile.
type Finding struct {
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	EscrowID *uuid.UUID `json:"escrow_id,omitempty"`
	Detail   string     `json:"detail"`
}

type Report struct {
	UsersChecked int       `json:"users_checked"`
	Findings     []Finding `json:"findings"`
}

// Reconcile verifies every user's chain and lists settled escrows that no
// wallet event references.
func (s *Service) Reconcile(ctx context.Context, store repository.Store) (Report, error) {
	var rep Report
	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		rep = Report{}
		ids, err := tx.ListProfileIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id == models.SystemUserID {
				continue
			}
			rep.UsersChecked++
			if err := Verify(ctx, tx, id); err != nil {
				if apperr.KindOf(err) != apperr.KindInvariantViolation {
					return err
				}
				id := id
				rep.Findings = append(rep.Findings, Finding{UserID: &id, Detail: err.Error()})
			}
		}
		orphans, err := tx.ListSettledEscrowsWithoutWalletEvent(ctx)
		if err != nil {
			return err
		}
		for _, e := range orphans {
			id := e.ID
			rep.Findings = append(rep.Findings, Finding{EscrowID: &id, Detail: fmt.Sprintf("escrow %s is %s with no wallet event", e.ID, e.Status)})
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}
	for _, f := range rep.Findings {
		s.logger.Error("ledger reconciliation finding", "user_id", f.UserID, "escrow_id", f.EscrowID, "detail", f.Detail)
	}
	return rep, nil
}
