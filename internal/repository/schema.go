package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		wallet_balance BIGINT NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
		completed_tasks INTEGER NOT NULL DEFAULT 0,
		is_frozen BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		gross_amount BIGINT NOT NULL CHECK (gross_amount > 0),
		deadline TIMESTAMPTZ,
		in_person BOOLEAN NOT NULL DEFAULT false,
		location JSONB,
		status TEXT NOT NULL,
		poster_id UUID NOT NULL REFERENCES profiles(id),
		doer_id UUID REFERENCES profiles(id),
		accepted_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		submitted_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		auto_release_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_auto_release_idx ON tasks (auto_release_at) WHERE status = 'submitted'`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id UUID PRIMARY KEY,
		task_id UUID NOT NULL REFERENCES tasks(id),
		doer_id UUID NOT NULL REFERENCES profiles(id),
		message TEXT NOT NULL DEFAULT '',
		attachments TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS escrow_transactions (
		id UUID PRIMARY KEY,
		task_id UUID NOT NULL UNIQUE REFERENCES tasks(id),
		poster_id UUID NOT NULL REFERENCES profiles(id),
		doer_id UUID REFERENCES profiles(id),
		gross_amount BIGINT NOT NULL,
		platform_fee BIGINT NOT NULL,
		net_payout BIGINT NOT NULL,
		fee_percentage NUMERIC(6,3) NOT NULL,
		status TEXT NOT NULL,
		auto_release_at TIMESTAMPTZ,
		released_at TIMESTAMPTZ,
		refunded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (gross_amount = platform_fee + net_payout)
	)`,
	`CREATE TABLE IF NOT EXISTS disputes (
		id UUID PRIMARY KEY,
		task_id UUID NOT NULL REFERENCES tasks(id),
		escrow_id UUID REFERENCES escrow_transactions(id),
		raised_by UUID NOT NULL,
		raised_by_role TEXT NOT NULL,
		reason TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		resolution_type TEXT,
		resolved_in_favor_of TEXT,
		poster_refund_amount BIGINT,
		doer_payout_amount BIGINT,
		resolution_notes TEXT NOT NULL DEFAULT '',
		resolver_id UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_events (
		id UUID PRIMARY KEY,
		seq BIGSERIAL UNIQUE,
		user_id UUID NOT NULL REFERENCES profiles(id),
		event_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		task_id UUID,
		escrow_id UUID,
		actor_id UUID,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (balance_after = balance_before + amount)
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_events_user_idx ON wallet_events (user_id, seq)`,
	`CREATE INDEX IF NOT EXISTS wallet_events_escrow_idx ON wallet_events (escrow_id)`,
	`CREATE TABLE IF NOT EXISTS task_events (
		id UUID PRIMARY KEY,
		task_id UUID NOT NULL,
		actor_id UUID,
		actor_role TEXT NOT NULL,
		event_type TEXT NOT NULL,
		old_state TEXT NOT NULL DEFAULT '',
		new_state TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS task_events_task_idx ON task_events (task_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS admin_actions (
		id UUID PRIMARY KEY,
		admin_id UUID NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id UUID NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT NOT NULL,
		user_id UUID NOT NULL,
		endpoint TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		response JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (key, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_counters (
		user_id UUID NOT NULL,
		endpoint TEXT NOT NULL,
		window_start TIMESTAMPTZ NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (user_id, endpoint, window_start)
	)`,
}

// EnsureSchema creates the engine tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
