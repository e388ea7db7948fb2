// Package orchestrator owns the lifecycle of one unit of requested work
// from intake through delivery. Every transition is guarded: a task moves
// forward monotonically, with the single permitted backward edge
// needs_clarification -> processing.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/dispatch"
	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/models"
)

// TaskRepo is the persistence interface the orchestrator drives.
type TaskRepo interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Update(ctx context.Context, t *models.Task) error
	ListByUser(ctx context.Context, userID string) ([]*models.Task, error)
	ListNonTerminal(ctx context.Context) ([]*models.Task, error)
}

// EnqueueGenerationFunc enqueues background generation for a task.
// Typically a closure over river.Client.Insert; the synchronous intake
// path only enqueues, it never generates.
type EnqueueGenerationFunc func(ctx context.Context, taskID uuid.UUID) error

// ToolExecutor invokes one approved tool call. A returned error is a
// per-tool failure surfaced in the delivered output, never task-fatal.
type ToolExecutor interface {
	Invoke(ctx context.Context, toolName string, args json.RawMessage, traceID uuid.UUID) (json.RawMessage, error)
}

// OutputDispatcher fans the approved output out to channels.
type OutputDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) []dispatch.ChannelResult
}

// DeliveryResult reports the outcome of DeliverApproved.
type DeliveryResult struct {
	Delivered    bool                     `json:"delivered"`
	Error        string                   `json:"error,omitempty"`
	ToolFailures []string                 `json:"tool_failures,omitempty"`
	Channels     []dispatch.ChannelResult `json:"channels,omitempty"`
}

const ackMessage = "Got it. I'm working on it and will send you a draft to approve shortly."

// Orchestrator coordinates tasks, the draft queue, background generation,
// tool execution, and delivery.
type Orchestrator struct {
	repo       TaskRepo
	queue      *drafts.Queue
	enqueue    EnqueueGenerationFunc
	tools      ToolExecutor
	dispatcher OutputDispatcher
	sla        time.Duration
	log        *slog.Logger
	now        func() time.Time

	// Per-task mutual exclusion for transitions. Tasks for different
	// traces advance independently; two concurrent approvals of the same
	// task serialize here and the second fails the state guard.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func New(
	repo TaskRepo,
	queue *drafts.Queue,
	enqueue EnqueueGenerationFunc,
	tools ToolExecutor,
	dispatcher OutputDispatcher,
	sla time.Duration,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		repo:       repo,
		queue:      queue,
		enqueue:    enqueue,
		tools:      tools,
		dispatcher: dispatcher,
		sla:        sla,
		log:        log,
		now:        time.Now,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// Queue exposes the draft queue for the operator surface.
func (o *Orchestrator) Queue() *drafts.Queue { return o.queue }

func (o *Orchestrator) lockTask(id uuid.UUID) func() {
	o.locksMu.Lock()
	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	o.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// dropLock releases the task's lock entry once it reaches a terminal
// state. A racing caller may re-create the entry, but every guard fails
// on a terminal task, so the worst case is a no-op on a fresh mutex.
func (o *Orchestrator) dropLock(id uuid.UUID) {
	o.locksMu.Lock()
	delete(o.locks, id)
	o.locksMu.Unlock()
}

// CreateTask allocates a task and its trace, persists it, and enqueues
// background generation. The ack is returned synchronously and is distinct
// from the final output.
func (o *Orchestrator) CreateTask(ctx context.Context, userID, orgID, originChannel, userMessage, recipient string) (*models.Task, string, error) {
	task := &models.Task{
		ID:            uuid.New(),
		TraceID:       uuid.New(),
		UserID:        userID,
		OrgID:         orgID,
		OriginChannel: originChannel,
		UserMessage:   userMessage,
		Recipient:     recipient,
		Status:        models.TaskStatusCreated,
		SLADeadline:   o.now().Add(o.sla),
	}
	if err := o.repo.Create(ctx, task); err != nil {
		return nil, "", fmt.Errorf("create task: %w", err)
	}
	if err := o.enqueue(ctx, task.ID); err != nil {
		// The task exists and will surface via the SLA alert; intake
		// still acknowledges so the channel is not left hanging.
		o.log.Error("enqueue generation", "task_id", task.ID, "error", err)
	}
	o.log.Info("task created", "task_id", task.ID, "trace_id", task.TraceID, "channel", originChannel)
	return task, ackMessage, nil
}

// MarkProcessing moves created|needs_clarification -> processing. Absent
// tasks and wrong states are a no-op returning nil.
func (o *Orchestrator) MarkProcessing(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusCreated && t.Status != models.TaskStatusNeedsClarification {
			return false
		}
		t.Status = models.TaskStatusProcessing
		return true
	})
}

// SetDraftOutput moves processing -> draft_ready, records the generated
// output, appends tools used, and accumulates credits consumed. Credits
// accumulate across clarification cycles and are never reset.
func (o *Orchestrator) SetDraftOutput(ctx context.Context, taskID uuid.UUID, text string, toolsUsed []string, creditsConsumed float64) (*models.Task, error) {
	return o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusProcessing {
			return false
		}
		t.Status = models.TaskStatusDraftReady
		t.DraftOutput = text
		t.ClarificationQ = ""
		t.ToolsUsed = append(t.ToolsUsed, toolsUsed...)
		t.CreditsConsumed += creditsConsumed
		return true
	})
}

// RequestClarification moves processing -> needs_clarification and stores
// the question for channel-specific re-prompting.
func (o *Orchestrator) RequestClarification(ctx context.Context, taskID uuid.UUID, question string, creditsConsumed float64) (*models.Task, error) {
	return o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusProcessing {
			return false
		}
		t.Status = models.TaskStatusNeedsClarification
		t.ClarificationQ = question
		t.CreditsConsumed += creditsConsumed
		return true
	})
}

// ProvideClarification re-enters generation with the user's answer: the
// only backward edge, needs_clarification -> processing. Returns nil when
// the task is not awaiting clarification.
func (o *Orchestrator) ProvideClarification(ctx context.Context, taskID uuid.UUID, answer string) (*models.Task, error) {
	task, err := o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusNeedsClarification {
			return false
		}
		t.Status = models.TaskStatusProcessing
		t.UserMessage = t.UserMessage + "\n[clarification] " + answer
		t.ClarificationQ = ""
		return true
	})
	if err != nil || task == nil {
		return task, err
	}
	if err := o.enqueue(ctx, task.ID); err != nil {
		o.log.Error("enqueue generation after clarification", "task_id", task.ID, "error", err)
	}
	return task, nil
}

// ApproveDraft moves draft_ready -> approved. A second concurrent approval
// serializes on the task lock and fails the guard, so double approval is
// impossible.
func (o *Orchestrator) ApproveDraft(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusDraftReady {
			return false
		}
		t.Status = models.TaskStatusApproved
		return true
	})
}

// RejectDraft moves draft_ready -> rejected (terminal). Staged drafts for
// the trace are cleared: nothing from a rejected task may execute.
func (o *Orchestrator) RejectDraft(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := o.transition(ctx, taskID, func(t *models.Task) bool {
		if t.Status != models.TaskStatusDraftReady {
			return false
		}
		t.Status = models.TaskStatusRejected
		return true
	})
	if err == nil && task != nil {
		o.queue.Clear(task.TraceID)
		o.dropLock(task.ID)
	}
	return task, err
}

// DeliverApproved executes the trace's approved staged tool calls and
// dispatches the output. On origin dispatch failure the task remains
// approved so delivery can be retried; per-tool failures are recorded in
// the result and do not abort sibling calls.
func (o *Orchestrator) DeliverApproved(ctx context.Context, taskID uuid.UUID, echoChannels []string, privileged bool) (DeliveryResult, error) {
	unlock := o.lockTask(taskID)
	defer unlock()

	task, err := o.repo.GetByID(ctx, taskID)
	if err != nil {
		return DeliveryResult{Error: "load task"}, err
	}
	if task == nil {
		return DeliveryResult{Error: "task not found"}, nil
	}
	if task.Status != models.TaskStatusApproved {
		return DeliveryResult{Error: fmt.Sprintf("task is %s, not approved", task.Status)}, nil
	}

	// Each approved call is attempted at most once: it is marked executed
	// before the invoke, so a delivery retry after a dispatch failure only
	// redoes the dispatch, never the side effects.
	var failures []string
	for _, d := range o.queue.ApprovedFor(task.TraceID) {
		o.queue.MarkExecuted(task.TraceID, d.Index)
		if _, err := o.tools.Invoke(ctx, d.ToolName, d.Args, task.TraceID); err != nil {
			o.log.Warn("tool invocation failed", "trace_id", task.TraceID, "tool", d.ToolName, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", d.ToolName, err))
		}
	}

	results := o.dispatcher.Dispatch(ctx, dispatch.Request{
		RawResponse:   task.DraftOutput,
		OriginChannel: task.OriginChannel,
		EchoChannels:  echoChannels,
		Recipient:     task.Recipient,
		TraceID:       task.TraceID,
		DraftOnly:     !privileged,
		Privileged:    privileged,
	})

	// The origin channel result decides delivery; echo staging failures
	// are reported but don't hold the task in approved.
	if len(results) > 0 && !results[0].Delivered {
		o.log.Warn("delivery failed, task stays approved", "task_id", task.ID, "error", results[0].Error)
		return DeliveryResult{Error: results[0].Error, ToolFailures: failures, Channels: results}, nil
	}

	task.Status = models.TaskStatusDelivered
	if err := o.repo.Update(ctx, task); err != nil {
		return DeliveryResult{Error: "persist delivered state", ToolFailures: failures, Channels: results}, err
	}
	// Terminal: drop the lock entry, and drop the trace's drafts unless
	// echo sends staged above are still awaiting an operator decision.
	o.queue.ClearSettled(task.TraceID)
	o.dropLock(task.ID)
	o.log.Info("task delivered", "task_id", task.ID, "trace_id", task.TraceID)
	return DeliveryResult{Delivered: true, ToolFailures: failures, Channels: results}, nil
}

// GetTask returns a task by id, (nil, nil) when absent.
func (o *Orchestrator) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return o.repo.GetByID(ctx, taskID)
}

// TasksByUser returns a user's tasks.
func (o *Orchestrator) TasksByUser(ctx context.Context, userID string) ([]*models.Task, error) {
	return o.repo.ListByUser(ctx, userID)
}

// TasksNearingSLA returns non-terminal tasks whose deadline is within the
// warning window (or already past). Used by the alerting surface; a stuck
// task is alerted on, never auto-failed.
func (o *Orchestrator) TasksNearingSLA(ctx context.Context, window time.Duration) ([]*models.Task, error) {
	tasks, err := o.repo.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := o.now().Add(window)
	var out []*models.Task
	for _, t := range tasks {
		if t.SLADeadline.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

// transition applies a guarded mutation under the task lock. An absent
// task or a false guard returns (nil, nil): invalid decisions are no-ops,
// not errors. Repository failures are errors, never silent no-ops.
func (o *Orchestrator) transition(ctx context.Context, taskID uuid.UUID, guard func(*models.Task) bool) (*models.Task, error) {
	unlock := o.lockTask(taskID)
	defer unlock()

	task, err := o.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil || !guard(task) {
		return nil, nil
	}
	if err := o.repo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}
	return task, nil
}
