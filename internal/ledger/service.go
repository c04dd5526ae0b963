// Package ledger is the only writer of wallet balances. Every change appends
// a WalletEvent and moves the cached profile balance in the same unit of work.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

// DefaultMaxAttempts bounds the optimistic balance retry loop.
const DefaultMaxAttempts = 5

// Writer is the subset of repository.Tx the ledger writes through.
type Writer interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	SetWalletBalance(ctx context.Context, userID uuid.UUID, expected, next int64) (repository.Outcome, error)
	InsertWalletEvent(ctx context.Context, e *models.WalletEvent) error
}

// Entry describes one balance change. Amount is always positive; Credit and
// Debit decide the sign.
type Entry struct {
	UserID   uuid.UUID
	Amount   int64
	Type     models.WalletEventType
	TaskID   *uuid.UUID
	EscrowID *uuid.UUID
	ActorID  *uuid.UUID
	Metadata map[string]any
}

type Service struct {
	logger      *slog.Logger
	maxAttempts int
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, maxAttempts: DefaultMaxAttempts}
}

// Credit adds e.Amount to the user's balance.
func (s *Service) Credit(ctx context.Context, w Writer, e Entry) (*models.WalletEvent, error) {
	if e.Amount <= 0 {
		return nil, apperr.Validation("credit amount must be positive, got %d", e.Amount)
	}
	return s.apply(ctx, w, e, e.Amount)
}

// Debit subtracts e.Amount and fails with InsufficientBalance rather than go
// below zero.
func (s *Service) Debit(ctx context.Context, w Writer, e Entry) (*models.WalletEvent, error) {
	if e.Amount <= 0 {
		return nil, apperr.Validation("debit amount must be positive, got %d", e.Amount)
	}
	return s.apply(ctx, w, e, -e.Amount)
}

func (s *Service) apply(ctx context.Context, w Writer, e Entry, delta int64) (*models.WalletEvent, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		p, err := w.GetProfile(ctx, e.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("profile", e.UserID)
		}
		if err != nil {
			return nil, err
		}

		before := p.WalletBalance
		if delta < 0 {
			amount := -delta
			if amount > before || before-amount < 0 {
				return nil, apperr.InsufficientBalance(before, amount)
			}
		}
		after := before + delta

		out, err := w.SetWalletBalance(ctx, e.UserID, before, after)
		if err != nil {
			return nil, err
		}
		if !out.Updated {
			s.logger.Debug("wallet balance moved, retrying", "user_id", e.UserID, "attempt", attempt)
			continue
		}

		ev := &models.WalletEvent{
			ID:            uuid.New(),
			UserID:        e.UserID,
			EventType:     e.Type,
			Amount:        delta,
			BalanceBefore: before,
			BalanceAfter:  after,
			TaskID:        e.TaskID,
			EscrowID:      e.EscrowID,
			ActorID:       e.ActorID,
			Metadata:      e.Metadata,
		}
		if err := w.InsertWalletEvent(ctx, ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, apperr.Conflict("wallet balance changed concurrently; retry")
}
