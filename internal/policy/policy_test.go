package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewMemoryLimiter(Limits{"accept_task": 2}, time.Hour, clock)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, user, "accept_task"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, user, "accept_task"); !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("third call = %v, want rate limited", err)
	}
	if err := l.Allow(ctx, uuid.New(), "accept_task"); err != nil {
		t.Errorf("other user limited: %v", err)
	}
	if err := l.Allow(ctx, user, "unlimited"); err != nil {
		t.Errorf("unconfigured endpoint limited: %v", err)
	}

	now = now.Add(time.Hour)
	if err := l.Allow(ctx, user, "accept_task"); err != nil {
		t.Errorf("next window still limited: %v", err)
	}
}

func TestProfileFreeze(t *testing.T) {
	store := repository.NewMemoryStore()
	frozen := uuid.New()
	active := uuid.New()
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateProfile(ctx, &models.Profile{ID: frozen, Email: "f@example.com", IsFrozen: true}); err != nil {
			return err
		}
		return tx.CreateProfile(ctx, &models.Profile{ID: active, Email: "a@example.com"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := NewProfileFreeze(store)
	for _, tc := range []struct {
		id   uuid.UUID
		want bool
	}{{frozen, true}, {active, false}, {uuid.New(), false}} {
		got, err := f.IsFrozen(context.Background(), tc.id)
		if err != nil {
			t.Fatalf("IsFrozen: %v", err)
		}
		if got != tc.want {
			t.Errorf("IsFrozen(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
