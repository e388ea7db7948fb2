package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Draft status enums. A draft receives at most one terminal decision;
// an approved draft moves to executed once its call has been attempted.
const (
	DraftStatusPending  = "pending"
	DraftStatusApproved = "approved"
	DraftStatusRejected = "rejected"
	DraftStatusExecuted = "executed"
)

// Draft decision actions.
const (
	DraftActionApprove = "approve"
	DraftActionReject  = "reject"
)

// Draft is a single proposed tool invocation awaiting human approval.
// UserID is an optional owner restriction; a draft with no owner is
// approvable by anyone with visibility of the trace.
type Draft struct {
	TraceID   uuid.UUID       `json:"trace_id"`
	Index     int             `json:"index"`
	ToolName  string          `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	Status    string          `json:"status"`
	UserID    string          `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
