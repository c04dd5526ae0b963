package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

// ErrNotFound is returned by Tx getters when no row matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// NotifyFunc delivers one notification after its unit of work committed.
type NotifyFunc func(ctx context.Context, n models.Notification) error

// Store runs a unit of work. Every write made through the Tx inside fn
// commits together or not at all. InTx joins a transaction already carried
// by ctx instead of opening a nested one.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the full set of data operations available inside a unit of work.
// Task, escrow, dispute and wallet-balance writes only go through the
// guarded Update* methods.
type Tx interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	ListProfileIDs(ctx context.Context) ([]uuid.UUID, error)
	SetWalletBalance(ctx context.Context, userID uuid.UUID, expected, next int64) (Outcome, error)
	IncrementCompletedTasks(ctx context.Context, userID uuid.UUID) error

	InsertTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTask(ctx context.Context, g TaskGuard) (Outcome, error)
	ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	InsertSubmission(ctx context.Context, s *models.Submission) error

	InsertEscrow(ctx context.Context, e *models.EscrowTransaction) error
	GetEscrow(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetEscrowByTask(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error)
	UpdateEscrow(ctx context.Context, g EscrowGuard) (Outcome, error)
	ListSettledEscrowsWithoutWalletEvent(ctx context.Context) ([]*models.EscrowTransaction, error)

	InsertDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	UpdateDispute(ctx context.Context, g DisputeGuard) (Outcome, error)

	InsertWalletEvent(ctx context.Context, e *models.WalletEvent) error
	ListWalletEvents(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error)

	InsertTaskEvent(ctx context.Context, e *models.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.TaskEvent, error)
	InsertAdminAction(ctx context.Context, a *models.AdminAction) error

	GetIdempotencyKey(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error)
	InsertIdempotencyKey(ctx context.Context, k *models.IdempotencyKey) error

	// EnqueueNotification records a notification for delivery once the
	// unit of work commits. Nothing is delivered on rollback.
	EnqueueNotification(ctx context.Context, n models.Notification) error
}

type txKey struct{}

// WithTx returns a context carrying tx so nested InTx calls join it.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok
}

var (
	_ Store = (*PgStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Tx    = (*memTx)(nil)
)
