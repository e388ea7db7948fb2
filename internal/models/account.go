package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator roles. Admin is required for privileged operations (battery
// recharge, dispatch draft-only bypass).
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
