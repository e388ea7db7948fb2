package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiendo/backend/internal/models"
)

const taskColumns = `id, trace_id, user_id, org_id, origin_channel, user_message, recipient, status, draft_output, clarification_question, tools_used, credits_consumed, sla_deadline, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ TaskRepo = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, trace_id, user_id, org_id, origin_channel, user_message, recipient, status, draft_output, clarification_question, tools_used, credits_consumed, sla_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, t.ID, t.TraceID, t.UserID, t.OrgID, t.OriginChannel, t.UserMessage, t.Recipient, t.Status, t.DraftOutput, t.ClarificationQ, t.ToolsUsed, t.CreditsConsumed, t.SLADeadline).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByID returns (nil, nil) when no task exists, so callers can tell an
// absent task from a database failure.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	err := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.TraceID, &t.UserID, &t.OrgID, &t.OriginChannel, &t.UserMessage, &t.Recipient, &t.Status, &t.DraftOutput, &t.ClarificationQ, &t.ToolsUsed, &t.CreditsConsumed, &t.SLADeadline, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) Update(ctx context.Context, t *models.Task) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, draft_output = $3, clarification_question = $4, user_message = $5, tools_used = $6, credits_consumed = $7, updated_at = now()
		WHERE id = $1
	`, t.ID, t.Status, t.DraftOutput, t.ClarificationQ, t.UserMessage, t.ToolsUsed, t.CreditsConsumed)
	return err
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *Repository) ListNonTerminal(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status NOT IN ($1, $2) ORDER BY sla_deadline ASC
	`, models.TaskStatusDelivered, models.TaskStatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTasks(rows rowScanner) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.TraceID, &t.UserID, &t.OrgID, &t.OriginChannel, &t.UserMessage, &t.Recipient, &t.Status, &t.DraftOutput, &t.ClarificationQ, &t.ToolsUsed, &t.CreditsConsumed, &t.SLADeadline, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
