package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/captainace/backend/internal/models"
)

const profileColumns = `id, email, display_name, password_hash, role, wallet_balance, completed_tasks, is_frozen, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.Role, &p.WalletBalance, &p.CompletedTasks, &p.IsFrozen, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *pgTx) CreateProfile(ctx context.Context, p *models.Profile) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO profiles (id, email, display_name, password_hash, role, wallet_balance, completed_tasks, is_frozen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.Email, p.DisplayName, p.PasswordHash, p.Role, p.WalletBalance, p.CompletedTasks, p.IsFrozen).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(t.tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (t *pgTx) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return scanProfile(t.tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email))
}

func (t *pgTx) ListProfileIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// SetWalletBalance moves the cached balance from expected to next. Zero rows
// affected means another writer changed the balance after it was read.
func (t *pgTx) SetWalletBalance(ctx context.Context, userID uuid.UUID, expected, next int64) (Outcome, error) {
	result, err := t.tx.Exec(ctx, `
		UPDATE profiles SET wallet_balance = $3, updated_at = now()
		WHERE id = $1 AND wallet_balance = $2
	`, userID, expected, next)
	if err != nil {
		return Outcome{}, fmt.Errorf("set wallet balance: %w", err)
	}
	return Outcome{Updated: result.RowsAffected() == 1, Entity: "wallet", ID: userID}, nil
}

func (t *pgTx) IncrementCompletedTasks(ctx context.Context, userID uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE profiles SET completed_tasks = completed_tasks + 1, updated_at = now() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("increment completed tasks: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
