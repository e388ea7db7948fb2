package webhooks

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiendo/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ EventRepo = (*Repository)(nil)

// InsertIfNew records the canonical event; (provider, provider_transaction_id)
// is unique, so a replayed delivery inserts nothing and returns false.
func (r *Repository) InsertIfNew(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_events (provider, provider_transaction_id, amount, currency, status, buyer_info, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, provider_transaction_id) DO NOTHING
	`, e.Provider, e.ProviderTransactionID, e.Amount, e.Currency, e.Status, e.BuyerInfo, e.RawPayload, e.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListRecent returns the latest events for the operator surface.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, provider_transaction_id, amount, currency, status, buyer_info, raw_payload, received_at
		FROM webhook_events ORDER BY received_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		if err := rows.Scan(&e.Provider, &e.ProviderTransactionID, &e.Amount, &e.Currency, &e.Status, &e.BuyerInfo, &e.RawPayload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
