package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ToolCall is one tool invocation the engine proposes. Proposals are
// staged as drafts; they never execute before approval.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Request carries the trace context the engine needs.
type Request struct {
	TaskID        uuid.UUID `json:"task_id"`
	TraceID       uuid.UUID `json:"trace_id"`
	UserMessage   string    `json:"user_message"`
	OriginChannel string    `json:"origin_channel"`
}

// Result is what the engine produced for one generation cycle. A non-empty
// Clarification means the engine needs more input before drafting.
type Result struct {
	Text            string     `json:"text"`
	ToolsUsed       []string   `json:"tools_used"`
	ToolCalls       []ToolCall `json:"tool_calls"`
	CreditsConsumed float64    `json:"credits_consumed"`
	UsageUnits      int64      `json:"usage_units"`
	Clarification   string     `json:"clarification,omitempty"`
}

// Engine is the external intent/generation collaborator. How the result is
// produced is out of scope here.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// HTTPEngine calls a generation sidecar over HTTP. Generation is slow
// (seconds), hence the long client timeout.
type HTTPEngine struct {
	EndpointURL string
	Client      *http.Client
}

func NewHTTPEngine(endpointURL string) *HTTPEngine {
	return &HTTPEngine{
		EndpointURL: endpointURL,
		Client:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *HTTPEngine) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("engine returned invalid JSON: %w", err)
	}
	return &res, nil
}
