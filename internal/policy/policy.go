// Package policy holds the pre-mutation checks: frozen accounts and
// per-user, per-endpoint rate limits.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/repository"
)

// ProfileFreeze reads the is_frozen flag from the profile row. Unknown users
// are not frozen.
type ProfileFreeze struct {
	store repository.Store
}

func NewProfileFreeze(store repository.Store) *ProfileFreeze {
	return &ProfileFreeze{store: store}
}

func (f *ProfileFreeze) IsFrozen(ctx context.Context, userID uuid.UUID) (bool, error) {
	var frozen bool
	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProfile(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		frozen = p.IsFrozen
		return nil
	})
	return frozen, err
}

// Limits maps an endpoint to its per-window ceiling. Endpoints without an
// entry are not limited.
type Limits map[string]int

// MemoryLimiter is a fixed-window counter held in process memory.
type MemoryLimiter struct {
	mu     sync.Mutex
	limits Limits
	window time.Duration
	now    func() time.Time
	counts map[counterKey]int
}

type counterKey struct {
	userID   uuid.UUID
	endpoint string
	start    int64
}

func NewMemoryLimiter(limits Limits, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{limits: limits, window: window, now: now, counts: map[counterKey]int{}}
}

func (l *MemoryLimiter) Allow(ctx context.Context, userID uuid.UUID, endpoint string) error {
	limit, ok := l.limits[endpoint]
	if !ok {
		return nil
	}
	start := l.now().Truncate(l.window)
	key := counterKey{userID: userID, endpoint: endpoint, start: start.UnixNano()}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.counts {
		if k.start < key.start {
			delete(l.counts, k)
		}
	}
	l.counts[key]++
	if l.counts[key] > limit {
		return apperr.RateLimited(endpoint)
	}
	return nil
}

// PgLimiter keeps fixed-window counters in the rate_limit_counters table so
// the ceiling holds across processes.
type PgLimiter struct {
	pool   *pgxpool.Pool
	limits Limits
	window time.Duration
	now    func() time.Time
}

func NewPgLimiter(pool *pgxpool.Pool, limits Limits, window time.Duration) *PgLimiter {
	return &PgLimiter{pool: pool, limits: limits, window: window, now: time.Now}
}

func (l *PgLimiter) Allow(ctx context.Context, userID uuid.UUID, endpoint string) error {
	limit, ok := l.limits[endpoint]
	if !ok {
		return nil
	}
	start := l.now().UTC().Truncate(l.window)
	var count int
	err := l.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_counters (user_id, endpoint, window_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, endpoint, window_start) DO UPDATE SET count = rate_limit_counters.count + 1
		RETURNING count
	`, userID, endpoint, start).Scan(&count)
	if err != nil {
		return fmt.Errorf("rate limit counter: %w", err)
	}
	if count > limit {
		return apperr.RateLimited(endpoint)
	}
	return nil
}

// Sweep deletes counters from windows that have already closed.
func (l *PgLimiter) Sweep(ctx context.Context) (int64, error) {
	start := l.now().UTC().Truncate(l.window)
	tag, err := l.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE window_start < $1`, start)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
