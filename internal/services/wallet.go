package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/config"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

type AmountInput struct {
	Amount int64 `json:"amount"`
}

type AdminCreditInput struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
	Reason string    `json:"reason"`
}

// SandboxDeposit credits test funds to the caller's own wallet.
func (e *Engine) SandboxDeposit(ctx context.Context, actor models.Actor, in AmountInput) (*WalletResult, error) {
	if err := e.checkWalletAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := e.precheck(ctx, actor, config.EndpointWalletDeposit); err != nil {
		return nil, err
	}
	return e.walletEntry(ctx, ledger.Entry{
		UserID:  actor.UserID,
		Amount:  in.Amount,
		Type:    models.WalletEventSandboxDeposit,
		ActorID: &actor.UserID,
	}, false)
}

// SandboxWithdraw debits the caller's wallet. It fails with
// insufficient_balance rather than going negative.
func (e *Engine) SandboxWithdraw(ctx context.Context, actor models.Actor, in AmountInput) (*WalletResult, error) {
	if err := e.checkWalletAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := e.precheck(ctx, actor, config.EndpointWalletWithdraw); err != nil {
		return nil, err
	}
	return e.walletEntry(ctx, ledger.Entry{
		UserID:  actor.UserID,
		Amount:  in.Amount,
		Type:    models.WalletEventSandboxWithdrawal,
		ActorID: &actor.UserID,
	}, true)
}

// AdminCredit credits any user's wallet and records the admin action.
func (e *Engine) AdminCredit(ctx context.Context, actor models.Actor, in AdminCreditInput) (*WalletResult, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if err := e.checkWalletAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := e.precheck(ctx, actor, config.EndpointAdminCredit); err != nil {
		return nil, err
	}

	var res *WalletResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, err = e.walletEntry(ctx, ledger.Entry{
			UserID:   in.UserID,
			Amount:   in.Amount,
			Type:     models.WalletEventAdminCredit,
			ActorID:  &actor.UserID,
			Metadata: map[string]any{"reason": in.Reason},
		}, false)
		if err != nil {
			return err
		}
		return tx.InsertAdminAction(ctx, &models.AdminAction{
			ID:         uuid.New(),
			AdminID:    actor.UserID,
			Action:     models.AdminActionWalletCredit,
			TargetType: "profile",
			TargetID:   in.UserID,
			Metadata:   map[string]any{"amount": in.Amount, "reason": in.Reason, "wallet_event_id": res.Event.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("admin wallet credit", "admin_id", actor.UserID, "user_id", in.UserID, "amount", in.Amount)
	return res, nil
}

// GetWallet returns a user's cached balance and event history. Users see
// their own wallet; admins see any.
func (e *Engine) GetWallet(ctx context.Context, actor models.Actor, userID uuid.UUID) (*WalletView, error) {
	if userID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Forbidden("cannot view another user's wallet")
	}
	var view *WalletView
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProfile(ctx, userID)
		if err != nil {
			return notFound(err, "profile", userID)
		}
		events, err := tx.ListWalletEvents(ctx, userID)
		if err != nil {
			return err
		}
		view = &WalletView{UserID: userID, Balance: p.WalletBalance, Events: events}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (e *Engine) walletEntry(ctx context.Context, entry ledger.Entry, debit bool) (*WalletResult, error) {
	var res *WalletResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetProfile(ctx, entry.UserID); err != nil {
			return notFound(err, "profile", entry.UserID)
		}
		var (
			ev  *models.WalletEvent
			err error
		)
		if debit {
			ev, err = e.ledger.Debit(ctx, tx, entry)
		} else {
			ev, err = e.ledger.Credit(ctx, tx, entry)
		}
		if err != nil {
			return err
		}
		res = &WalletResult{Balance: ev.BalanceAfter, Event: ev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) checkWalletAmount(amount int64) error {
	if amount <= 0 || amount > e.maxGross {
		return apperr.Validation("amount must be between 1 and %d, got %d", e.maxGross, amount)
	}
	return nil
}
