package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/atiendo/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTasks(ts ...*models.Task) *mockTasks {
	m := &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range ts {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockTasks) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) MarkProcessing(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || (t.Status != models.TaskStatusCreated && t.Status != models.TaskStatusNeedsClarification) {
		return nil, nil
	}
	t.Status = models.TaskStatusProcessing
	cp := *t
	return &cp, nil
}

func (m *mockTasks) SetDraftOutput(_ context.Context, id uuid.UUID, text string, toolsUsed []string, credits float64) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusProcessing {
		return nil, nil
	}
	t.Status = models.TaskStatusDraftReady
	t.DraftOutput = text
	t.ToolsUsed = append(t.ToolsUsed, toolsUsed...)
	t.CreditsConsumed += credits
	cp := *t
	return &cp, nil
}

func (m *mockTasks) RequestClarification(_ context.Context, id uuid.UUID, question string, credits float64) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusProcessing {
		return nil, nil
	}
	t.Status = models.TaskStatusNeedsClarification
	t.ClarificationQ = question
	t.CreditsConsumed += credits
	cp := *t
	return &cp, nil
}

// ---

type mockBattery struct {
	mu       sync.Mutex
	depleted bool
	reserved float64
	debited  float64
}

func (m *mockBattery) Reserve(_ string, amount float64, _ int64, _ uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depleted {
		return false
	}
	m.reserved += amount
	return true
}

func (m *mockBattery) Debit(_ string, amount float64, _ int64, _ uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debited += amount
}

// ---

type mockEngine struct {
	res   *Result
	err   error
	calls int
}

func (m *mockEngine) Generate(_ context.Context, _ Request) (*Result, error) {
	m.calls++
	return m.res, m.err
}

// ---

type mockStager struct {
	mu     sync.Mutex
	staged []string
}

func (m *mockStager) Stage(_ uuid.UUID, toolName string, _ json.RawMessage, _ string) *models.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, toolName)
	return &models.Draft{ToolName: toolName, Index: len(m.staged) - 1}
}

// ---

func newTask() *models.Task {
	return &models.Task{
		ID:      uuid.New(),
		TraceID: uuid.New(),
		Status:  models.TaskStatusCreated,
	}
}

func job(taskID uuid.UUID) *river.Job[GenerateReplyJobArgs] {
	return &river.Job[GenerateReplyJobArgs]{Args: GenerateReplyJobArgs{TaskID: taskID}}
}

// ---------------------------------------------------------------------------
// 1. Successful generation stages drafts and records actual spend
// ---------------------------------------------------------------------------

func TestWorkStagesDraftOutput(t *testing.T) {
	task := newTask()
	tasks := newMockTasks(task)
	bat := &mockBattery{}
	eng := &mockEngine{res: &Result{
		Text:            "Invoice #42 drafted for Maria.",
		ToolsUsed:       []string{"create_invoice"},
		ToolCalls:       []ToolCall{{Name: "create_invoice", Args: json.RawMessage(`{"client":"maria"}`)}},
		CreditsConsumed: 0.08,
		UsageUnits:      1400,
	}}
	stager := &mockStager{}
	w := NewGenerateReplyWorker(tasks, bat, eng, stager, 0.05, nil)

	if err := w.Work(context.Background(), job(task.ID)); err != nil {
		t.Fatalf("Work: %v", err)
	}

	after, _ := tasks.GetTask(context.Background(), task.ID)
	if after.Status != models.TaskStatusDraftReady {
		t.Errorf("status: got %q, want draft_ready", after.Status)
	}
	if after.CreditsConsumed != 0.08 {
		t.Errorf("task credits: got %v, want 0.08", after.CreditsConsumed)
	}
	if len(stager.staged) != 1 || stager.staged[0] != "create_invoice" {
		t.Errorf("staged tool calls: got %v", stager.staged)
	}
	// Reserved the 0.05 estimate, adjusted by the 0.03 difference.
	if bat.reserved != 0.05 {
		t.Errorf("reserved: got %v, want 0.05", bat.reserved)
	}
	if got := bat.debited; got < 0.0299 || got > 0.0301 {
		t.Errorf("adjustment debit: got %v, want 0.03", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Depleted battery: free-path response, no engine call
// ---------------------------------------------------------------------------

func TestWorkBatteryDepleted(t *testing.T) {
	task := newTask()
	tasks := newMockTasks(task)
	eng := &mockEngine{res: &Result{Text: "should not run"}}
	w := NewGenerateReplyWorker(tasks, &mockBattery{depleted: true}, eng, &mockStager{}, 0.05, nil)

	if err := w.Work(context.Background(), job(task.ID)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if eng.calls != 0 {
		t.Error("depleted battery must not invoke the paid engine")
	}
	after, _ := tasks.GetTask(context.Background(), task.ID)
	if after.DraftOutput != DepletedMessage {
		t.Errorf("draft output: got %q, want depleted message", after.DraftOutput)
	}
	if after.CreditsConsumed != 0 {
		t.Errorf("credits: got %v, want 0", after.CreditsConsumed)
	}
}

// ---------------------------------------------------------------------------
// 3. Clarification request
// ---------------------------------------------------------------------------

func TestWorkRequestsClarification(t *testing.T) {
	task := newTask()
	tasks := newMockTasks(task)
	eng := &mockEngine{res: &Result{Clarification: "Which Maria?", CreditsConsumed: 0.02}}
	w := NewGenerateReplyWorker(tasks, &mockBattery{}, eng, &mockStager{}, 0.02, nil)

	if err := w.Work(context.Background(), job(task.ID)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	after, _ := tasks.GetTask(context.Background(), task.ID)
	if after.Status != models.TaskStatusNeedsClarification {
		t.Errorf("status: got %q, want needs_clarification", after.Status)
	}
	if after.ClarificationQ != "Which Maria?" {
		t.Errorf("question: got %q", after.ClarificationQ)
	}
}

// ---------------------------------------------------------------------------
// 4. Engine failure leaves the task processing for retry
// ---------------------------------------------------------------------------

func TestWorkEngineFailureRetries(t *testing.T) {
	task := newTask()
	tasks := newMockTasks(task)
	eng := &mockEngine{err: errors.New("model overloaded")}
	w := NewGenerateReplyWorker(tasks, &mockBattery{}, eng, &mockStager{}, 0.05, nil)

	if err := w.Work(context.Background(), job(task.ID)); err == nil {
		t.Fatal("engine failure should propagate for retry")
	}
	after, _ := tasks.GetTask(context.Background(), task.ID)
	if after.Status != models.TaskStatusProcessing {
		t.Errorf("status: got %q, want processing (stuck tasks surface via SLA)", after.Status)
	}
}

// ---------------------------------------------------------------------------
// 5. Job for a finished task is a clean no-op
// ---------------------------------------------------------------------------

func TestWorkSkipsTerminalTask(t *testing.T) {
	task := newTask()
	task.Status = models.TaskStatusDelivered
	tasks := newMockTasks(task)
	eng := &mockEngine{res: &Result{Text: "late"}}
	w := NewGenerateReplyWorker(tasks, &mockBattery{}, eng, &mockStager{}, 0.05, nil)

	if err := w.Work(context.Background(), job(task.ID)); err != nil {
		t.Fatalf("Work on terminal task: %v", err)
	}
	if eng.calls != 0 {
		t.Error("terminal task must not trigger generation")
	}
}
