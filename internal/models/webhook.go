package models

import (
	"encoding/json"
	"time"
)

// Webhook payment statuses after normalization.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusCompleted = "completed"
)

// Payment providers with built-in verification and normalization.
const (
	WebhookProviderStripe  = "stripe"
	WebhookProviderPayPal  = "paypal"
	WebhookProviderGeneric = "generic"
)

// WebhookEvent is the canonical form of a verified payment notification.
// Provider + ProviderTransactionID together are the dedup key for
// downstream processing.
type WebhookEvent struct {
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                float64         `json:"amount"`
	Currency              string          `json:"currency"`
	Status                string          `json:"status"`
	BuyerInfo             string          `json:"buyer_info,omitempty"`
	RawPayload            json.RawMessage `json:"raw_payload"`
	ReceivedAt            time.Time       `json:"received_at"`
}
