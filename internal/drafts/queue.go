// Package drafts holds proposed tool invocations awaiting a human
// decision, keyed by trace. Nothing ships without a terminal decision
// recorded here first.
package drafts

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/models"
)

// Queue is an in-memory arena of drafts per trace. Entries live until an
// explicit Clear; there is no TTL, so a pending draft always waits for a
// human rather than timing out into an implicit rejection.
type Queue struct {
	mu      sync.Mutex
	byTrace map[uuid.UUID][]*models.Draft
	log     *slog.Logger
	now     func() time.Time
}

func NewQueue(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		byTrace: make(map[uuid.UUID][]*models.Draft),
		log:     log,
		now:     time.Now,
	}
}

// Stage appends a pending draft for the trace and returns it with its
// assigned index. userID may be empty: an ownerless draft is decidable by
// anyone with trace visibility (team traces).
func (q *Queue) Stage(traceID uuid.UUID, toolName string, args json.RawMessage, userID string) *models.Draft {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := &models.Draft{
		TraceID:   traceID,
		Index:     len(q.byTrace[traceID]),
		ToolName:  toolName,
		Args:      args,
		Status:    models.DraftStatusPending,
		UserID:    userID,
		CreatedAt: q.now(),
	}
	q.byTrace[traceID] = append(q.byTrace[traceID], d)
	q.log.Info("draft staged", "trace_id", traceID, "index", d.Index, "tool", toolName)
	return d
}

// Decide transitions exactly one draft to approved or rejected. It returns
// nil when the draft does not exist, is already terminal, or the action is
// unknown — a double decision is a no-op, never an error.
func (q *Queue) Decide(traceID uuid.UUID, index int, action string) *models.Draft {
	if action != models.DraftActionApprove && action != models.DraftActionReject {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.byTrace[traceID]
	if index < 0 || index >= len(list) {
		return nil
	}
	d := list[index]
	if d.Status != models.DraftStatusPending {
		return nil
	}
	if action == models.DraftActionApprove {
		d.Status = models.DraftStatusApproved
	} else {
		d.Status = models.DraftStatusRejected
	}
	cp := *d
	return &cp
}

// PendingFor returns the trace's pending drafts. With a non-empty userID,
// owned drafts are filtered to that owner; ownerless drafts always pass.
func (q *Queue) PendingFor(traceID uuid.UUID, userID string) []*models.Draft {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.Draft
	for _, d := range q.byTrace[traceID] {
		if d.Status != models.DraftStatusPending {
			continue
		}
		if userID != "" && d.UserID != "" && d.UserID != userID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// ApprovedFor returns the trace's approved drafts in staging order.
func (q *Queue) ApprovedFor(traceID uuid.UUID) []*models.Draft {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.Draft
	for _, d := range q.byTrace[traceID] {
		if d.Status != models.DraftStatusApproved {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// MarkExecuted moves an approved draft to executed. An executed draft is
// never picked up again: each approved call is attempted at most once,
// even when the attempt fails. Returns false when the draft is absent or
// not approved.
func (q *Queue) MarkExecuted(traceID uuid.UUID, index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.byTrace[traceID]
	if index < 0 || index >= len(list) {
		return false
	}
	d := list[index]
	if d.Status != models.DraftStatusApproved {
		return false
	}
	d.Status = models.DraftStatusExecuted
	return true
}

// Clear drops all drafts for a trace.
func (q *Queue) Clear(traceID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byTrace, traceID)
}

// ClearSettled drops the trace once every draft is rejected or executed.
// Pending drafts still await a decision and approved drafts still await
// execution, so either keeps the trace alive. Returns whether the trace
// was dropped.
func (q *Queue) ClearSettled(traceID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range q.byTrace[traceID] {
		if d.Status == models.DraftStatusPending || d.Status == models.DraftStatusApproved {
			return false
		}
	}
	delete(q.byTrace, traceID)
	return true
}
