package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/models"
)

// PaymentProcessor is the external tool that applies a verified payment
// event. It is idempotent on (provider, providerTransactionId).
type PaymentProcessor interface {
	Process(ctx context.Context, event *models.WebhookEvent, traceID uuid.UUID) error
}

// EventRepo records canonical events and reports whether the dedup key was
// new. Duplicates are acknowledged but not re-forwarded.
type EventRepo interface {
	InsertIfNew(ctx context.Context, e *models.WebhookEvent) (bool, error)
}

// Ingress is the HTTP-facing webhook receiver: verify, normalize, dedup,
// forward. The HTTP response never waits on downstream processing.
type Ingress struct {
	verifiers  map[string]Verifier
	secrets    map[string]string
	production bool
	repo       EventRepo
	processor  PaymentProcessor
	log        *slog.Logger

	// forwardSync disables the fire-and-forget handoff so tests can
	// observe processing deterministically.
	forwardSync bool
}

func NewIngress(
	verifiers map[string]Verifier,
	secrets map[string]string,
	production bool,
	repo EventRepo,
	processor PaymentProcessor,
	log *slog.Logger,
) *Ingress {
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{
		verifiers:  verifiers,
		secrets:    secrets,
		production: production,
		repo:       repo,
		processor:  processor,
		log:        log,
	}
}

// Handle serves POST /v1/webhooks/{provider}.
func (i *Ingress) Handle(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	verifier, ok := i.verifiers[provider]
	if !ok {
		http.Error(w, `{"error":"unknown provider"}`, http.StatusNotFound)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	secret, hasSecret := i.secrets[provider]
	if !hasSecret || secret == "" {
		if i.production {
			// A missing secret in production must be loud, never a
			// silent acceptance of unsigned payloads.
			i.log.Error("webhook secret not configured in production", "provider", provider)
			http.Error(w, `{"error":"webhook secret not configured"}`, http.StatusInternalServerError)
			return
		}
		i.log.Warn("webhook secret not configured, accepting unsigned payload outside production", "provider", provider)
	} else if err := verifier.Verify(rawBody, r.Header, secret); err != nil {
		i.log.Warn("webhook rejected", "provider", provider, "error", err)
		http.Error(w, `{"error":"signature verification failed"}`, http.StatusUnauthorized)
		return
	}

	event, err := normalize(provider, rawBody)
	if err != nil {
		i.log.Warn("webhook payload malformed", "provider", provider, "error", err)
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	traceID := uuid.New()
	isNew := true
	if i.repo != nil {
		isNew, err = i.repo.InsertIfNew(r.Context(), event)
		if err != nil {
			// Favor availability: forward anyway, the processor is
			// idempotent on the same dedup key.
			i.log.Error("webhook dedup store failed", "provider", provider, "error", err)
			isNew = true
		}
	}

	if isNew {
		if i.forwardSync {
			i.forward(context.Background(), event, traceID)
		} else {
			go i.forward(context.Background(), event, traceID)
		}
	} else {
		i.log.Info("duplicate webhook acknowledged", "provider", provider, "provider_transaction_id", event.ProviderTransactionID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"received": true, "duplicate": !isNew})
}

func (i *Ingress) forward(ctx context.Context, event *models.WebhookEvent, traceID uuid.UUID) {
	if i.processor == nil {
		return
	}
	if err := i.processor.Process(ctx, event, traceID); err != nil {
		i.log.Error("payment processing failed", "provider", event.Provider,
			"provider_transaction_id", event.ProviderTransactionID, "trace_id", traceID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Provider payload normalization
// ---------------------------------------------------------------------------

type stripePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID              string `json:"id"`
			AmountTotal     int64  `json:"amount_total"`
			Currency        string `json:"currency"`
			PaymentStatus   string `json:"payment_status"`
			CustomerDetails struct {
				Email string `json:"email"`
			} `json:"customer_details"`
		} `json:"object"`
	} `json:"data"`
}

type paypalPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		Payer struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
	} `json:"resource"`
}

type genericPayload struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Buyer         string  `json:"buyer"`
}

// normalize converts a provider payload into the canonical event.
func normalize(provider string, rawBody []byte) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		Provider:   provider,
		RawPayload: rawBody,
		ReceivedAt: time.Now().UTC(),
	}

	switch provider {
	case models.WebhookProviderStripe:
		var p stripePayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		if p.Data.Object.ID == "" {
			return nil, errors.New("missing transaction id")
		}
		event.ProviderTransactionID = p.Data.Object.ID
		event.Amount = float64(p.Data.Object.AmountTotal) / 100
		event.Currency = p.Data.Object.Currency
		event.BuyerInfo = p.Data.Object.CustomerDetails.Email
		if p.Data.Object.PaymentStatus == "paid" {
			event.Status = models.WebhookStatusCompleted
		} else {
			event.Status = models.WebhookStatusPending
		}
	case models.WebhookProviderPayPal:
		var p paypalPayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		if p.Resource.ID == "" {
			return nil, errors.New("missing transaction id")
		}
		amount, err := strconv.ParseFloat(p.Resource.Amount.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", p.Resource.Amount.Value, err)
		}
		event.ProviderTransactionID = p.Resource.ID
		event.Amount = amount
		event.Currency = p.Resource.Amount.CurrencyCode
		event.BuyerInfo = p.Resource.Payer.EmailAddress
		if p.Resource.Status == "COMPLETED" {
			event.Status = models.WebhookStatusCompleted
		} else {
			event.Status = models.WebhookStatusPending
		}
	default:
		var p genericPayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		if p.TransactionID == "" {
			return nil, errors.New("missing transaction id")
		}
		event.ProviderTransactionID = p.TransactionID
		event.Amount = p.Amount
		event.Currency = p.Currency
		event.BuyerInfo = p.Buyer
		if p.Status == "completed" {
			event.Status = models.WebhookStatusCompleted
		} else {
			event.Status = models.WebhookStatusPending
		}
	}
	return event, nil
}
