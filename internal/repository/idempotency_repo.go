package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

func (t *pgTx) GetIdempotencyKey(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	err := t.tx.QueryRow(ctx, `
		SELECT key, user_id, endpoint, request_hash, response, created_at
		FROM idempotency_keys WHERE key = $1 AND user_id = $2
	`, key, userID).Scan(&k.Key, &k.UserID, &k.Endpoint, &k.RequestHash, &k.Response, &k.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (t *pgTx) InsertIdempotencyKey(ctx context.Context, k *models.IdempotencyKey) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, user_id, endpoint, request_hash, response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.Key, k.UserID, k.Endpoint, k.RequestHash, k.Response).Scan(&k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", mapErr(err))
	}
	return nil
}
