package models

import (
	"github.com/google/uuid"
)

// APIKey authenticates channel bridge clients (chat widget, WhatsApp
// bridge, webform backend) on the /v1 intake routes. Only the SHA-256
// hash of the key is stored.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
}
