package operator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/battery"
	"github.com/atiendo/backend/internal/dispatch"
	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/middleware"
	"github.com/atiendo/backend/internal/models"
	"github.com/atiendo/backend/internal/orchestrator"
)

// LedgerStore is the subset of the credit entry repository the operator
// surface reads from.
type LedgerStore interface {
	ListByTrace(ctx context.Context, traceID uuid.UUID) ([]*models.CreditEntry, error)
	Recent(ctx context.Context, limit int) ([]*models.CreditEntry, error)
}

// PaymentStore lists recorded payment webhook events.
type PaymentStore interface {
	ListRecent(ctx context.Context, limit int) ([]*models.WebhookEvent, error)
}

// Handler serves the operator dashboard routes under /api/v1.
type Handler struct {
	battery    *battery.Battery
	ledger     LedgerStore
	queue      *drafts.Queue
	orch       *orchestrator.Orchestrator
	dispatcher *dispatch.Dispatcher
	apiKeys    *auth.APIKeyRepository
	payments   PaymentStore
	slaWindow  time.Duration
	log        *slog.Logger
}

func NewHandler(
	bat *battery.Battery,
	ledger LedgerStore,
	queue *drafts.Queue,
	orch *orchestrator.Orchestrator,
	dispatcher *dispatch.Dispatcher,
	apiKeys *auth.APIKeyRepository,
	payments PaymentStore,
	slaWindow time.Duration,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		battery:    bat,
		ledger:     ledger,
		queue:      queue,
		orch:       orch,
		dispatcher: dispatcher,
		apiKeys:    apiKeys,
		payments:   payments,
		slaWindow:  slaWindow,
		log:        log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/battery
func (h *Handler) GetBattery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.battery.Status())
}

// POST /api/v1/battery/recharge  (admin only, enforced by middleware)
func (h *Handler) RechargeBattery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credits float64 `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.battery.Recharge(body.Credits); err != nil {
		if errors.Is(err, battery.ErrRechargeOutOfRange) {
			http.Error(w, "credits must be between 1 and 100", http.StatusBadRequest)
			return
		}
		h.log.Error("recharge failed", "error", err)
		http.Error(w, "recharge failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("battery recharged",
		"operator_id", middleware.OperatorIDFromCtx(r.Context()),
		"credits", body.Credits)
	writeJSON(w, http.StatusOK, h.battery.Status())
}

// GET /api/v1/credit-ledger?trace_id=&limit=
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	var (
		entries []*models.CreditEntry
		err     error
	)
	if traceStr := r.URL.Query().Get("trace_id"); traceStr != "" {
		traceID, perr := uuid.Parse(traceStr)
		if perr != nil {
			http.Error(w, "invalid trace_id", http.StatusBadRequest)
			return
		}
		entries, err = h.ledger.ListByTrace(r.Context(), traceID)
	} else {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, perr := strconv.Atoi(s); perr == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		entries, err = h.ledger.Recent(r.Context(), limit)
	}
	if err != nil {
		h.log.Error("list credit ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/drafts?trace_id=&user_id=
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	traceID, err := uuid.Parse(r.URL.Query().Get("trace_id"))
	if err != nil {
		http.Error(w, "invalid trace_id", http.StatusBadRequest)
		return
	}
	pending := h.queue.PendingFor(traceID, r.URL.Query().Get("user_id"))
	if pending == nil {
		pending = []*models.Draft{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// POST /api/v1/drafts/decide
//
// Approving a staged echo-channel send executes it immediately; other
// tool drafts wait for the task's delivery pass.
func (h *Handler) DecideDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TraceID string `json:"trace_id"`
		Index   int    `json:"index"`
		Action  string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	traceID, err := uuid.Parse(body.TraceID)
	if err != nil {
		http.Error(w, "invalid trace_id", http.StatusBadRequest)
		return
	}
	if body.Action != models.DraftActionApprove && body.Action != models.DraftActionReject {
		http.Error(w, "action must be approve or reject", http.StatusBadRequest)
		return
	}
	draft := h.queue.Decide(traceID, body.Index, body.Action)
	if draft == nil {
		http.Error(w, "draft not found or already decided", http.StatusConflict)
		return
	}

	resp := map[string]any{"draft": draft}
	if draft.Status == models.DraftStatusApproved && strings.HasPrefix(draft.ToolName, "send_") {
		result := h.dispatcher.ExecuteStagedSend(r.Context(), draft)
		// One attempt per approved send; a later delivery retry must not
		// pick this draft up again.
		h.queue.MarkExecuted(traceID, draft.Index)
		draft.Status = models.DraftStatusExecuted
		resp["send_result"] = result
	}
	h.queue.ClearSettled(traceID)
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task ID", http.StatusBadRequest)
		return
	}
	task, err := h.orch.GetTask(r.Context(), taskID)
	if err != nil {
		h.log.Error("get task failed", "task_id", taskID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GET /api/v1/tasks?user_id=
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter required", http.StatusBadRequest)
		return
	}
	tasks, err := h.orch.TasksByUser(r.Context(), userID)
	if err != nil {
		h.log.Error("list tasks failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /api/v1/tasks/sla
func (h *Handler) TasksNearingSLA(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.orch.TasksNearingSLA(r.Context(), h.slaWindow)
	if err != nil {
		h.log.Error("list SLA tasks failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /api/v1/payments?limit=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := h.payments.ListRecent(r.Context(), limit)
	if err != nil {
		h.log.Error("list payments failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*models.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// POST /api/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.OperatorIDFromCtx(r.Context())
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}
	rawKey := "atd_" + hex.EncodeToString(rawBytes)
	k := &models.APIKey{
		ID:        uuid.New(),
		AccountID: accountID,
		KeyHash:   middleware.HashKey(rawKey),
		KeyPrefix: rawKey[:12],
		IsActive:  true,
	}
	if err := h.apiKeys.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    rawKey,
	})
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.ListByAccountID(r.Context(), middleware.OperatorIDFromCtx(r.Context()))
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	ok, err := h.apiKeys.Revoke(r.Context(), keyID)
	if err != nil {
		h.log.Error("revoke api key failed", "error", err)
		http.Error(w, "revoke failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
