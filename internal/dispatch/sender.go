package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sendTimeout = 5 * time.Second

// HTTPSender posts sends as JSON to a channel adapter endpoint. It is the
// default wiring for channels whose adapter runs as a sidecar service.
type HTTPSender struct {
	EndpointURL string
	Client      *http.Client
}

func NewHTTPSender(endpointURL string) *HTTPSender {
	return &HTTPSender{
		EndpointURL: endpointURL,
		Client:      &http.Client{Timeout: sendTimeout},
	}
}

type sendPayload struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

func (s *HTTPSender) Send(ctx context.Context, recipient, content string) error {
	body, err := json.Marshal(sendPayload{Recipient: recipient, Content: content})
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("channel adapter unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel adapter returned status %d", resp.StatusCode)
	}
	return nil
}
