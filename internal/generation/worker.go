// Package generation runs the background generation cycle for a task:
// battery gate, engine call, draft staging. It is triggered by a queued
// job so the intake path never blocks on it.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/atiendo/backend/internal/models"
)

// DepletedMessage is the user-visible response when the AI battery cannot
// cover a generation cycle. It flows through the normal approval path so
// the user still gets an answer, without any paid call happening.
const DepletedMessage = "The AI battery is depleted for today. Ask an operator to recharge it, or try again tomorrow."

type GenerateReplyJobArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (GenerateReplyJobArgs) Kind() string { return "generate_reply" }

// TaskService is the orchestrator surface the worker drives.
type TaskService interface {
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	MarkProcessing(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	SetDraftOutput(ctx context.Context, taskID uuid.UUID, text string, toolsUsed []string, creditsConsumed float64) (*models.Task, error)
	RequestClarification(ctx context.Context, taskID uuid.UUID, question string, creditsConsumed float64) (*models.Task, error)
}

// Battery is the metering gate the worker consults before paid work.
type Battery interface {
	Reserve(provider string, amount float64, usageUnits int64, traceID uuid.UUID) bool
	Debit(provider string, amount float64, usageUnits int64, traceID uuid.UUID)
}

// DraftStager stages the engine's proposed tool calls for approval.
type DraftStager interface {
	Stage(traceID uuid.UUID, toolName string, args json.RawMessage, userID string) *models.Draft
}

// GenerateReplyWorker runs one generation cycle per job.
type GenerateReplyWorker struct {
	river.WorkerDefaults[GenerateReplyJobArgs]
	tasks    TaskService
	battery  Battery
	engine   Engine
	stager   DraftStager
	estimate float64
	log      *slog.Logger
}

func NewGenerateReplyWorker(tasks TaskService, battery Battery, engine Engine, stager DraftStager, estimatedCost float64, log *slog.Logger) *GenerateReplyWorker {
	if log == nil {
		log = slog.Default()
	}
	return &GenerateReplyWorker{
		tasks:    tasks,
		battery:  battery,
		engine:   engine,
		stager:   stager,
		estimate: estimatedCost,
		log:      log,
	}
}

func (w *GenerateReplyWorker) Work(ctx context.Context, job *river.Job[GenerateReplyJobArgs]) error {
	taskID := job.Args.TaskID

	task, err := w.tasks.MarkProcessing(ctx, taskID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if task == nil {
		// Clarification re-entry already set processing; anything else
		// (terminal or unknown task) means this job has nothing to do.
		task, err = w.tasks.GetTask(ctx, taskID)
		if err != nil || task == nil || task.Status != models.TaskStatusProcessing {
			w.log.Info("generation job skipped", "task_id", taskID)
			return nil
		}
	}

	// Atomically reserve the estimated cost. Depleted battery resolves
	// the task through the free path: no engine call, zero credits.
	if !w.battery.Reserve(models.ProviderLLM, w.estimate, 0, task.TraceID) {
		w.log.Warn("battery depleted, skipping generation", "task_id", taskID, "trace_id", task.TraceID)
		_, err := w.tasks.SetDraftOutput(ctx, taskID, DepletedMessage, nil, 0)
		return err
	}

	res, err := w.engine.Generate(ctx, Request{
		TaskID:        task.ID,
		TraceID:       task.TraceID,
		UserMessage:   task.UserMessage,
		OriginChannel: task.OriginChannel,
	})
	if err != nil {
		// Leave the task in processing; river retries and the SLA alert
		// surface catches a permanently stuck task.
		return fmt.Errorf("generate for task %s: %w", taskID, err)
	}

	// The reservation covered the estimate; record the difference so the
	// ledger reflects what the engine actually consumed.
	if adj := res.CreditsConsumed - w.estimate; adj != 0 {
		w.battery.Debit(models.ProviderLLM, adj, res.UsageUnits, task.TraceID)
	}

	if res.Clarification != "" {
		_, err := w.tasks.RequestClarification(ctx, taskID, res.Clarification, res.CreditsConsumed)
		return err
	}

	for _, call := range res.ToolCalls {
		w.stager.Stage(task.TraceID, call.Name, call.Args, "")
	}
	_, err = w.tasks.SetDraftOutput(ctx, taskID, res.Text, res.ToolsUsed, res.CreditsConsumed)
	return err
}
