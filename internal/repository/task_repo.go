package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/captainace/backend/internal/models"
)

const taskColumns = `id, code, title, description, category, gross_amount, deadline, in_person, location, status, poster_id, doer_id,
	accepted_at, started_at, submitted_at, approved_at, completed_at, cancelled_at, auto_release_at, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Code, &t.Title, &t.Description, &t.Category, &t.GrossAmount, &t.Deadline, &t.InPerson, &t.Location, &t.Status, &t.PosterID, &t.DoerID,
		&t.AcceptedAt, &t.StartedAt, &t.SubmittedAt, &t.ApprovedAt, &t.CompletedAt, &t.CancelledAt, &t.AutoReleaseAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (t *pgTx) InsertTask(ctx context.Context, task *models.Task) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO tasks (id, code, title, description, category, gross_amount, deadline, in_person, location, status, poster_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, task.ID, task.Code, task.Title, task.Description, task.Category, task.GrossAmount, task.Deadline, task.InPerson, task.Location, task.Status, task.PosterID).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// UpdateTask writes g.Fields only while the row still has status g.Expected.
func (t *pgTx) UpdateTask(ctx context.Context, g TaskGuard) (Outcome, error) {
	f := g.Fields
	result, err := t.tx.Exec(ctx, `
		UPDATE tasks SET status = $3,
			doer_id = COALESCE($4, doer_id),
			accepted_at = COALESCE($5, accepted_at),
			started_at = COALESCE($6, started_at),
			submitted_at = COALESCE($7, submitted_at),
			approved_at = COALESCE($8, approved_at),
			completed_at = COALESCE($9, completed_at),
			cancelled_at = COALESCE($10, cancelled_at),
			auto_release_at = COALESCE($11, auto_release_at),
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, g.ID, g.Expected, f.Status, f.DoerID, f.AcceptedAt, f.StartedAt, f.SubmittedAt, f.ApprovedAt, f.CompletedAt, f.CancelledAt, f.AutoReleaseAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("update task: %w", err)
	}
	return outcome("task", g.ID, g.Expected, result.RowsAffected() == 1), nil
}

func (t *pgTx) ListDueForAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM tasks
		WHERE status = 'submitted' AND auto_release_at <= $1
		ORDER BY auto_release_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *pgTx) InsertSubmission(ctx context.Context, s *models.Submission) error {
	attachments := s.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO submissions (id, task_id, doer_id, message, attachments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.TaskID, s.DoerID, s.Message, attachments).Scan(&s.CreatedAt)
}
