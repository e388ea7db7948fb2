package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. Transitions are monotonic except the single
// needs_clarification -> processing cycle guarded by the orchestrator.
const (
	TaskStatusCreated            = "created"
	TaskStatusProcessing         = "processing"
	TaskStatusDraftReady         = "draft_ready"
	TaskStatusNeedsClarification = "needs_clarification"
	TaskStatusApproved           = "approved"
	TaskStatusRejected           = "rejected"
	TaskStatusDelivered          = "delivered"
)

// Channels accepted at intake and usable as echo destinations.
const (
	ChannelChat     = "chat"
	ChannelWhatsApp = "whatsapp"
	ChannelWebform  = "webform"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelVoice    = "voice"
)

// IsTerminalTaskStatus reports whether a task can no longer transition.
func IsTerminalTaskStatus(status string) bool {
	return status == TaskStatusDelivered || status == TaskStatusRejected
}

type Task struct {
	ID              uuid.UUID `json:"id"`
	TraceID         uuid.UUID `json:"trace_id"`
	UserID          string    `json:"user_id"`
	OrgID           string    `json:"org_id"`
	OriginChannel   string    `json:"origin_channel"`
	UserMessage     string    `json:"user_message"`
	Recipient       string    `json:"recipient"`
	Status          string    `json:"status"`
	DraftOutput     string    `json:"draft_output,omitempty"`
	ClarificationQ  string    `json:"clarification_question,omitempty"`
	ToolsUsed       []string  `json:"tools_used"`
	CreditsConsumed float64   `json:"credits_consumed"`
	SLADeadline     time.Time `json:"sla_deadline"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
