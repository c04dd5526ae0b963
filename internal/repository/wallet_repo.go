package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

// InsertWalletEvent appends a ledger row. Seq is assigned by the database.
func (t *pgTx) InsertWalletEvent(ctx context.Context, e *models.WalletEvent) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO wallet_events (id, user_id, event_type, amount, balance_before, balance_after, task_id, escrow_id, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at
	`, e.ID, e.UserID, e.EventType, e.Amount, e.BalanceBefore, e.BalanceAfter, e.TaskID, e.EscrowID, e.ActorID, metadata(e.Metadata)).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet event: %w", mapErr(err))
	}
	return nil
}

// ListWalletEvents returns a user's events in ledger order.
func (t *pgTx) ListWalletEvents(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, seq, user_id, event_type, amount, balance_before, balance_after, task_id, escrow_id, actor_id, metadata, created_at
		FROM wallet_events WHERE user_id = $1 ORDER BY seq
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletEvent
	for rows.Next() {
		var e models.WalletEvent
		if err := rows.Scan(&e.ID, &e.Seq, &e.UserID, &e.EventType, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.TaskID, &e.EscrowID, &e.ActorID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
