package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiendo/backend/internal/models"
)

type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.AccountID, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

// ListByAccountID returns all API keys for the given account.
func (r *APIKeyRepository) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, key_hash, key_prefix, is_active
		FROM api_keys WHERE account_id = $1 ORDER BY key_prefix
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.KeyPrefix, &k.IsActive); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	if list == nil {
		list = []*models.APIKey{}
	}
	return list, rows.Err()
}

// Revoke marks the key inactive. Returns false when no such key exists.
func (r *APIKeyRepository) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindAccountByKeyHash returns the account owning an active key with the
// given hash, or nil if not found or inactive.
func (r *APIKeyRepository) FindAccountByKeyHash(ctx context.Context, keyHash string) (*models.Account, error) {
	acc := &models.Account{}
	err := r.pool.QueryRow(ctx, `
		SELECT ac.id, ac.email, ac.password_hash, ac.display_name, ac.role, ac.created_at, ac.updated_at
		FROM api_keys k
		INNER JOIN accounts ac ON ac.id = k.account_id
		WHERE k.key_hash = $1 AND k.is_active = TRUE
	`, keyHash).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.DisplayName, &acc.Role, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}
