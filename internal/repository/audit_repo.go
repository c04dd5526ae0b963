package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/models"
)

func (t *pgTx) InsertTaskEvent(ctx context.Context, e *models.TaskEvent) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO task_events (id, task_id, actor_id, actor_role, event_type, old_state, new_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.TaskID, e.ActorID, e.ActorRole, e.EventType, e.OldState, e.NewState, metadata(e.Metadata)).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func (t *pgTx) ListTaskEvents(ctx context.Context, taskID uuid.UUID) ([]*models.TaskEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, task_id, actor_id, actor_role, event_type, old_state, new_state, metadata, created_at
		FROM task_events WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskEvent
	for rows.Next() {
		var e models.TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ActorID, &e.ActorRole, &e.EventType, &e.OldState, &e.NewState, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertAdminAction(ctx context.Context, a *models.AdminAction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO admin_actions (id, admin_id, action, target_type, target_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.AdminID, a.Action, a.TargetType, a.TargetID, metadata(a.Metadata)).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert admin action: %w", err)
	}
	return nil
}
