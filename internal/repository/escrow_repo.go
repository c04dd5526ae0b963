package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/captainace/backend/internal/models"
)

const escrowColumns = `id, task_id, poster_id, doer_id, gross_amount, platform_fee, net_payout, fee_percentage::text, status,
	auto_release_at, released_at, refunded_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	var pct string
	err := row.Scan(&e.ID, &e.TaskID, &e.PosterID, &e.DoerID, &e.GrossAmount, &e.PlatformFee, &e.NetPayout, &pct, &e.Status,
		&e.AutoReleaseAt, &e.ReleasedAt, &e.RefundedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if e.FeePercentage, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("parse fee percentage %q: %w", pct, err)
	}
	return &e, nil
}

func (t *pgTx) InsertEscrow(ctx context.Context, e *models.EscrowTransaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, task_id, poster_id, doer_id, gross_amount, platform_fee, net_payout, fee_percentage, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
		RETURNING created_at, updated_at
	`, e.ID, e.TaskID, e.PosterID, e.DoerID, e.GrossAmount, e.PlatformFee, e.NetPayout, e.FeePercentage.String(), e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(t.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id))
}

func (t *pgTx) GetEscrowByTask(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(t.tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE task_id = $1`, taskID))
}

// UpdateEscrow writes g.Fields only while the row still has status g.Expected.
// The amount columns are never part of the SET list.
func (t *pgTx) UpdateEscrow(ctx context.Context, g EscrowGuard) (Outcome, error) {
	f := g.Fields
	result, err := t.tx.Exec(ctx, `
		UPDATE escrow_transactions SET status = $3,
			doer_id = COALESCE($4, doer_id),
			auto_release_at = COALESCE($5, auto_release_at),
			released_at = COALESCE($6, released_at),
			refunded_at = COALESCE($7, refunded_at),
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, g.ID, g.Expected, f.Status, f.DoerID, f.AutoReleaseAt, f.ReleasedAt, f.RefundedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("update escrow: %w", err)
	}
	return outcome("escrow", g.ID, g.Expected, result.RowsAffected() == 1), nil
}

// ListSettledEscrowsWithoutWalletEvent finds released or refunded escrows that
// no ledger row references.
func (t *pgTx) ListSettledEscrowsWithoutWalletEvent(ctx context.Context) ([]*models.EscrowTransaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions e
		WHERE e.status IN ('released', 'refunded')
		  AND NOT EXISTS (SELECT 1 FROM wallet_events w WHERE w.escrow_id = e.id)
		ORDER BY e.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowTransaction
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
