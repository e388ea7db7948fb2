package battery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiendo/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, e *models.CreditEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO credit_entries (id, provider, amount, usage_units, trace_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.Provider, e.Amount, e.UsageUnits, e.TraceID).Scan(&e.CreatedAt)
}

func (r *Repository) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_entries
		WHERE created_at >= $1
	`, since).Scan(&total)
	return total, err
}

func (r *Repository) ListByTrace(ctx context.Context, traceID uuid.UUID) ([]*models.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider, amount, usage_units, trace_id, created_at
		FROM credit_entries WHERE trace_id = $1 ORDER BY created_at DESC
	`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditEntry
	for rows.Next() {
		var e models.CreditEntry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Amount, &e.UsageUnits, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]*models.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider, amount, usage_units, trace_id, created_at
		FROM credit_entries ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditEntry
	for rows.Next() {
		var e models.CreditEntry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Amount, &e.UsageUnits, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
