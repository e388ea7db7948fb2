// Package tools invokes external business tools over HTTP. Tool services
// (invoice PDFs, CRM updates, calendar bookings) live outside this process
// and are reached by name through a configured endpoint map.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type invokeRequest struct {
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args"`
	TraceID string          `json:"trace_id"`
}

// HTTPExecutor posts tool invocations to per-tool endpoints. Tools not in
// the map fall back to the default endpoint when one is configured.
type HTTPExecutor struct {
	endpoints       map[string]string
	defaultEndpoint string
	client          *http.Client
	log             *slog.Logger
}

func NewHTTPExecutor(endpoints map[string]string, defaultEndpoint string, log *slog.Logger) *HTTPExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPExecutor{
		endpoints:       endpoints,
		defaultEndpoint: defaultEndpoint,
		client:          &http.Client{Timeout: 60 * time.Second},
		log:             log,
	}
}

func (e *HTTPExecutor) Invoke(ctx context.Context, toolName string, args json.RawMessage, traceID uuid.UUID) (json.RawMessage, error) {
	endpoint, ok := e.endpoints[toolName]
	if !ok {
		endpoint = e.defaultEndpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for tool %q", toolName)
	}

	body, err := json.Marshal(invokeRequest{Tool: toolName, Args: args, TraceID: traceID.String()})
	if err != nil {
		return nil, fmt.Errorf("encode tool request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", toolName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %q returned status %d", toolName, resp.StatusCode)
	}

	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tool %q returned invalid JSON: %w", toolName, err)
	}
	e.log.Info("tool invoked", "tool", toolName, "trace_id", traceID)
	return out, nil
}
