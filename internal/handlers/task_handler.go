package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/intake"
	"github.com/atiendo/backend/internal/middleware"
	"github.com/atiendo/backend/internal/models"
	"github.com/atiendo/backend/internal/orchestrator"
)

// TaskService is the subset of the orchestrator the handler needs.
type TaskService interface {
	CreateTask(ctx context.Context, userID, orgID, originChannel, userMessage, recipient string) (*models.Task, string, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ProvideClarification(ctx context.Context, taskID uuid.UUID, answer string) (*models.Task, error)
	ApproveDraft(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	RejectDraft(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	DeliverApproved(ctx context.Context, taskID uuid.UUID, echoChannels []string, privileged bool) (orchestrator.DeliveryResult, error)
}

// TaskHandler serves /v1/tasks endpoints for channel bridge clients.
type TaskHandler struct {
	Service   TaskService
	Validator *intake.Validator
	Logger    *slog.Logger
}

type createTaskRequest struct {
	UserID        string  `json:"user_id"`
	OrgID         string  `json:"org_id"`
	Channel       string  `json:"channel"`
	Message       string  `json:"message"`
	Recipient     string  `json:"recipient"`
	EstimatedCost float64 `json:"estimated_cost"`
}

type createTaskResponse struct {
	TaskID  string `json:"task_id"`
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
	Ack     string `json:"ack"`
}

// CreateTask handles POST /v1/tasks.
// Auth -> Battery gate (via middleware) -> Validate intake -> Create -> 202.
// The ack is synchronous; generation runs as a background job.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		req.Channel = models.ChannelChat
	}

	// Hard reject on schema violations (per-channel payload contract).
	if err := h.Validator.ValidateIntake(req.Channel, body); err != nil {
		if errors.Is(err, intake.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate intake", "error", err)
		http.Error(w, `{"error":"intake validation failed"}`, http.StatusBadRequest)
		return
	}

	task, ack, err := h.Service.CreateTask(r.Context(), req.UserID, req.OrgID, req.Channel, req.Message, req.Recipient)
	if err != nil {
		h.Logger.Error("create task", "error", err)
		http.Error(w, `{"error":"failed to create task"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, createTaskResponse{
		TaskID:  task.ID.String(),
		TraceID: task.TraceID.String(),
		Status:  task.Status,
		Ack:     ack,
	})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Service.GetTask(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ProvideClarification handles POST /v1/tasks/{id}/clarification.
func (h *TaskHandler) ProvideClarification(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Answer == "" {
		http.Error(w, `{"error":"answer is required"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Service.ProvideClarification(r.Context(), taskID, req.Answer)
	if err != nil {
		h.Logger.Error("provide clarification", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task is not awaiting clarification"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ApproveDraft handles POST /v1/tasks/{id}/approve.
func (h *TaskHandler) ApproveDraft(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.ApproveDraft, "task has no draft awaiting approval")
}

// RejectDraft handles POST /v1/tasks/{id}/reject.
func (h *TaskHandler) RejectDraft(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.RejectDraft, "task has no draft awaiting approval")
}

func (h *TaskHandler) decide(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*models.Task, error), conflictMsg string) {
	taskID, ok := taskIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := op(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("draft decision", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": conflictMsg})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type deliverRequest struct {
	EchoChannels []string `json:"echo_channels"`
	BypassDrafts bool     `json:"bypass_drafts"`
}

// Deliver handles POST /v1/tasks/{id}/deliver. Echo channels are staged
// as drafts; an explicit bypass_drafts request from an admin account
// sends them directly instead (logged downstream). An admin that does
// not ask for the bypass gets the same draft-first behavior as everyone.
func (h *TaskHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	var req deliverRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
	}
	privileged := false
	if acc := middleware.AccountFromCtx(r.Context()); acc != nil {
		privileged = req.BypassDrafts && acc.Role == models.RoleAdmin
	}
	result, err := h.Service.DeliverApproved(r.Context(), taskID, req.EchoChannels, privileged)
	if err != nil {
		h.Logger.Error("deliver", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !result.Delivered {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- helpers ---

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func taskIDFromPath(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
