package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/fees"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/transitions"
)

type ResolveInput struct {
	Type                models.ResolutionType `json:"resolution_type"`
	PosterRefundPercent *decimal.Decimal      `json:"poster_refund_percent,omitempty"`
	DoerPayoutPercent   *decimal.Decimal      `json:"doer_payout_percent,omitempty"`
	Notes               string                `json:"notes"`
}

type ReviewInput struct {
	Status models.DisputeStatus `json:"status"`
	Notes  string               `json:"notes"`
}

// Split is the monetary outcome of a resolution.
type Split struct {
	Type         models.ResolutionType `json:"resolution_type"`
	InFavorOf    string                `json:"resolved_in_favor_of"`
	PosterRefund int64                 `json:"poster_refund_amount"`
	DoerPayout   int64                 `json:"doer_payout_amount"`
}

type Resolution struct {
	Dispute     *models.Dispute           `json:"dispute"`
	Task        *models.Task              `json:"task"`
	Escrow      *models.EscrowTransaction `json:"escrow"`
	Split       Split                     `json:"split"`
	DoerEvent   *models.WalletEvent       `json:"doer_wallet_event,omitempty"`
	PosterEvent *models.WalletEvent       `json:"poster_wallet_event,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ComputeSplit works out how an escrow is divided for a resolution type.
// Split percents apply independently: the poster's to gross_amount and the
// doer's to net_payout. The platform keeps whatever is left over.
func ComputeSplit(escrow *models.EscrowTransaction, typ models.ResolutionType, posterPct, doerPct *decimal.Decimal) (Split, error) {
	s := Split{Type: typ}
	switch typ {
	case models.ResolutionFullRelease:
		s.InFavorOf = models.FavorDoer
		s.DoerPayout = escrow.NetPayout
	case models.ResolutionFullRefund:
		s.InFavorOf = models.FavorPoster
		s.PosterRefund = escrow.GrossAmount
	case models.ResolutionSplit:
		if posterPct == nil || doerPct == nil {
			return Split{}, apperr.Validation("split requires poster_refund_percent and doer_payout_percent")
		}
		for _, p := range []decimal.Decimal{*posterPct, *doerPct} {
			if p.IsNegative() || p.GreaterThan(hundred) {
				return Split{}, apperr.Validation("split percent must be between 0 and 100, got %s", p)
			}
		}
		if posterPct.IsZero() && doerPct.IsZero() {
			return Split{}, apperr.Validation("split percents cannot both be zero")
		}
		s.InFavorOf = models.FavorSplit
		s.PosterRefund = fees.Percent(escrow.GrossAmount, *posterPct)
		s.DoerPayout = fees.Percent(escrow.NetPayout, *doerPct)
		if s.PosterRefund+s.DoerPayout > escrow.GrossAmount {
			return Split{}, apperr.Validation("split pays out %d of a %d escrow", s.PosterRefund+s.DoerPayout, escrow.GrossAmount)
		}
	default:
		return Split{}, apperr.Validation("unknown resolution type %q", typ)
	}
	return s, nil
}

// ResolveDispute settles a disputed escrow. The dispute, escrow, task, both
// wallets and the audit rows are written in one unit of work.
func (e *Engine) ResolveDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID, in ResolveInput) (*Resolution, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("unknown resolution type %q", in.Type)
	}
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}

	var res *Resolution
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute", disputeID)
		}
		if d.Status == models.DisputeStatusResolved {
			return apperr.Conflict("dispute already resolved")
		}
		task, err := loadTask(ctx, tx, d.TaskID)
		if err != nil {
			return err
		}
		escrow, err := disputeEscrow(ctx, tx, d)
		if err != nil {
			return err
		}
		if escrow.Status.IsSettled() {
			return apperr.Conflict("escrow already settled")
		}
		if err := e.checkAmounts(escrow); err != nil {
			return err
		}

		split, err := ComputeSplit(escrow, in.Type, in.PosterRefundPercent, in.DoerPayoutPercent)
		if err != nil {
			return err
		}
		if split.DoerPayout > 0 && task.DoerID == nil {
			return apperr.Validation("task has no doer to pay")
		}

		escrowTo := models.EscrowStatusReleased
		if in.Type == models.ResolutionFullRefund {
			escrowTo = models.EscrowStatusRefunded
		}
		if err := transitions.Dispute(d.Status, models.DisputeStatusResolved); err != nil {
			return err
		}
		if err := transitions.Escrow(escrow.Status, escrowTo); err != nil {
			return err
		}
		if err := transitions.Task(task.Status, models.TaskStatusCompleted); err != nil {
			return err
		}

		now := e.now().UTC()
		resolver := actor.UserID
		typ := in.Type
		favor := split.InFavorOf
		refund, payout := split.PosterRefund, split.DoerPayout
		notes := in.Notes
		out, err := tx.UpdateDispute(ctx, repository.DisputeGuard{ID: d.ID, Expected: d.Status, Fields: repository.DisputeFields{
			Status:             models.DisputeStatusResolved,
			EscrowID:           &escrow.ID,
			ResolutionType:     &typ,
			ResolvedInFavorOf:  &favor,
			PosterRefundAmount: &refund,
			DoerPayoutAmount:   &payout,
			ResolutionNotes:    &notes,
			ResolverID:         &resolver,
			ResolvedAt:         &now,
		}})
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}

		ef := repository.EscrowFields{Status: escrowTo}
		if escrowTo == models.EscrowStatusRefunded {
			ef.RefundedAt = &now
		} else {
			ef.ReleasedAt = &now
		}
		if err := guardEscrow(ctx, tx, escrow.ID, escrow.Status, ef); err != nil {
			return err
		}
		if err := guardTask(ctx, tx, task.ID, task.Status, repository.TaskFields{
			Status: models.TaskStatusCompleted, CompletedAt: &now,
		}); err != nil {
			return err
		}

		res = &Resolution{Split: split}
		meta := map[string]any{"dispute_id": d.ID, "resolution_type": string(in.Type)}
		if payout > 0 {
			res.DoerEvent, err = e.ledger.Credit(ctx, tx, ledger.Entry{
				UserID: *task.DoerID, Amount: payout, Type: models.WalletEventDisputeResolution,
				TaskID: &task.ID, EscrowID: &escrow.ID, ActorID: &resolver, Metadata: meta,
			})
			if err != nil {
				return err
			}
			if err := tx.IncrementCompletedTasks(ctx, *task.DoerID); err != nil {
				return notFound(err, "profile", *task.DoerID)
			}
		}
		if refund > 0 {
			res.PosterEvent, err = e.ledger.Credit(ctx, tx, ledger.Entry{
				UserID: task.PosterID, Amount: refund, Type: models.WalletEventDisputeRefund,
				TaskID: &task.ID, EscrowID: &escrow.ID, ActorID: &resolver, Metadata: meta,
			})
			if err != nil {
				return err
			}
		}

		summary := map[string]any{
			"dispute_id":           d.ID,
			"resolution_type":      string(in.Type),
			"resolved_in_favor_of": favor,
			"poster_refund_amount": refund,
			"doer_payout_amount":   payout,
			"notes":                in.Notes,
		}
		if err := tx.InsertAdminAction(ctx, &models.AdminAction{
			ID: uuid.New(), AdminID: resolver, Action: models.AdminActionResolveDispute,
			TargetType: "dispute", TargetID: d.ID, Metadata: summary,
		}); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventDisputeResolved, string(task.Status), string(models.TaskStatusCompleted), summary); err != nil {
			return err
		}
		for _, uid := range counterparties(task, uuid.Nil) {
			if err := tx.EnqueueNotification(ctx, models.Notification{
				UserID:  uid,
				Type:    models.NotifyDisputeResolved,
				Title:   fmt.Sprintf("Dispute on %s resolved", task.Code),
				Payload: summary,
			}); err != nil {
				return err
			}
		}

		if res.Dispute, err = tx.GetDispute(ctx, d.ID); err != nil {
			return err
		}
		r, err := reload(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		res.Task, res.Escrow = r.Task, r.Escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("dispute resolved", "dispute_id", disputeID, "admin_id", actor.UserID, "type", string(in.Type),
		"poster_refund", res.Split.PosterRefund, "doer_payout", res.Split.DoerPayout)
	return res, nil
}

// ReviewDispute moves an unresolved dispute to under_review or escalated.
func (e *Engine) ReviewDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID, in ReviewInput) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	if in.Status != models.DisputeStatusUnderReview && in.Status != models.DisputeStatusEscalated {
		return nil, apperr.Validation("status must be under_review or escalated")
	}
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}

	var out *models.Dispute
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute", disputeID)
		}
		if err := transitions.Dispute(d.Status, in.Status); err != nil {
			return err
		}
		f := repository.DisputeFields{Status: in.Status}
		if in.Notes != "" {
			f.ResolutionNotes = &in.Notes
		}
		res, err := tx.UpdateDispute(ctx, repository.DisputeGuard{ID: d.ID, Expected: d.Status, Fields: f})
		if err != nil {
			return err
		}
		if err := res.Err(); err != nil {
			return err
		}
		if err := tx.InsertAdminAction(ctx, &models.AdminAction{
			ID: uuid.New(), AdminID: actor.UserID, Action: models.AdminActionReviewDispute,
			TargetType: "dispute", TargetID: d.ID,
			Metadata: map[string]any{"from": string(d.Status), "to": string(in.Status), "notes": in.Notes},
		}); err != nil {
			return err
		}
		out, err = tx.GetDispute(ctx, d.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDispute returns a dispute to the task's participants and admins.
func (e *Engine) GetDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	var out *models.Dispute
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.GetDispute(ctx, disputeID)
		if err != nil {
			return notFound(err, "dispute", disputeID)
		}
		task, err := loadTask(ctx, tx, d.TaskID)
		if err != nil {
			return err
		}
		if !task.IsParticipant(actor.UserID) && !actor.IsAdmin() {
			return apperr.Forbidden("not a participant of this dispute")
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// disputeEscrow loads the dispute's escrow, falling back to the task's
// escrow when the dispute was recorded without one.
func disputeEscrow(ctx context.Context, tx repository.Tx, d *models.Dispute) (*models.EscrowTransaction, error) {
	if d.EscrowID != nil {
		escrow, err := tx.GetEscrow(ctx, *d.EscrowID)
		if err != nil {
			return nil, notFound(err, "escrow", *d.EscrowID)
		}
		return escrow, nil
	}
	escrow, err := tx.GetEscrowByTask(ctx, d.TaskID)
	if err != nil {
		return nil, notFound(err, "escrow for task", d.TaskID)
	}
	return escrow, nil
}
