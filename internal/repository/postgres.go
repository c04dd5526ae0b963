package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/captainace/backend/internal/models"
)

// EnqueueTxFunc inserts a notification job inside the caller's transaction.
// main wires it to the River client's InsertTx once the client exists.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, n models.Notification) error

// PgStore is the Postgres Store. Each unit of work is one pgx transaction.
type PgStore struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	enqueue EnqueueTxFunc
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Pool returns the underlying pool.
func (s *PgStore) Pool() *pgxpool.Pool { return s.pool }

// SetEnqueuer wires the transactional notification insert.
func (s *PgStore) SetEnqueuer(fn EnqueueTxFunc) {
	s.mu.Lock()
	s.enqueue = fn
	s.mu.Unlock()
}

func (s *PgStore) enqueuer() EnqueueTxFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueue
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ptx := &pgTx{tx: tx, enqueue: s.enqueuer()}
	if err := fn(WithTx(ctx, ptx), ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx implements Tx on one open pgx transaction. Its methods are spread
// over the per-entity *_repo.go files.
type pgTx struct {
	tx      pgx.Tx
	enqueue EnqueueTxFunc
}

func (t *pgTx) EnqueueNotification(ctx context.Context, n models.Notification) error {
	if t.enqueue == nil {
		return nil
	}
	if err := t.enqueue(ctx, t.tx, n); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

// mapErr translates driver errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}

func metadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
