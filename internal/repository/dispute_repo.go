package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

func (t *pgTx) InsertDispute(ctx context.Context, d *models.Dispute) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO disputes (id, task_id, escrow_id, raised_by, raised_by_role, reason, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, d.ID, d.TaskID, d.EscrowID, d.RaisedBy, d.RaisedByRole, d.Reason, d.Description, d.Status).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := t.tx.QueryRow(ctx, `
		SELECT id, task_id, escrow_id, raised_by, raised_by_role, reason, description, status, resolution_type, resolved_in_favor_of,
			poster_refund_amount, doer_payout_amount, resolution_notes, resolver_id, resolved_at, created_at, updated_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.TaskID, &d.EscrowID, &d.RaisedBy, &d.RaisedByRole, &d.Reason, &d.Description, &d.Status, &d.ResolutionType, &d.ResolvedInFavorOf,
		&d.PosterRefundAmount, &d.DoerPayoutAmount, &d.ResolutionNotes, &d.ResolverID, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// UpdateDispute writes g.Fields only while the row still has status g.Expected.
func (t *pgTx) UpdateDispute(ctx context.Context, g DisputeGuard) (Outcome, error) {
	f := g.Fields
	result, err := t.tx.Exec(ctx, `
		UPDATE disputes SET status = $3,
			escrow_id = COALESCE($4, escrow_id),
			resolution_type = COALESCE($5, resolution_type),
			resolved_in_favor_of = COALESCE($6, resolved_in_favor_of),
			poster_refund_amount = COALESCE($7, poster_refund_amount),
			doer_payout_amount = COALESCE($8, doer_payout_amount),
			resolution_notes = COALESCE($9, resolution_notes),
			resolver_id = COALESCE($10, resolver_id),
			resolved_at = COALESCE($11, resolved_at),
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, g.ID, g.Expected, f.Status, f.EscrowID, f.ResolutionType, f.ResolvedInFavorOf, f.PosterRefundAmount, f.DoerPayoutAmount,
		f.ResolutionNotes, f.ResolverID, f.ResolvedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("update dispute: %w", err)
	}
	return outcome("dispute", g.ID, g.Expected, result.RowsAffected() == 1), nil
}
