package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiendo/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName, role string) (*models.Account, error) {
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: passwordHash,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		acc.ID, acc.Email, acc.PasswordHash, acc.DisplayName, acc.Role,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	acc := &models.Account{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, role, created_at, updated_at
		FROM accounts WHERE email = $1`,
		email,
	).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.DisplayName, &acc.Role, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc := &models.Account{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, role, created_at, updated_at
		FROM accounts WHERE id = $1`,
		id,
	).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.DisplayName, &acc.Role, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}
