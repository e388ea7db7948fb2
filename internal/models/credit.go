package models

import (
	"time"

	"github.com/google/uuid"
)

// Known metered providers. The ledger accepts any provider string; these
// cover the built-in spend paths.
const (
	ProviderLLM = "llm"
	ProviderTTS = "tts"
)

// CreditEntry is one metered-spend event against the daily battery.
// Amount is in credits; UsageUnits is the provider-native unit count
// (tokens for LLM providers, characters for TTS).
type CreditEntry struct {
	ID         uuid.UUID `json:"id"`
	Provider   string    `json:"provider"`
	Amount     float64   `json:"amount"`
	UsageUnits int64     `json:"usage_units"`
	TraceID    uuid.UUID `json:"trace_id"`
	CreatedAt  time.Time `json:"created_at"`
}
