package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/models"
)

// HTTPProcessor forwards canonical payment events to the external payment
// processor service. It must be idempotent on its side; redeliveries that
// slip past dedup carry the same (provider, transaction id) pair.
type HTTPProcessor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPProcessor(endpoint string) *HTTPProcessor {
	return &HTTPProcessor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProcessor) Process(ctx context.Context, event *models.WebhookEvent, traceID uuid.UUID) error {
	payload, err := json.Marshal(map[string]any{
		"event":    event,
		"trace_id": traceID.String(),
	})
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward payment event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment processor returned status %d", resp.StatusCode)
	}
	return nil
}
