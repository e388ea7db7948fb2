// Package battery meters paid-operation spend against a rolling daily
// credit budget (the "AI battery"). Every paid call must pass the gate
// before it runs; bookkeeping favors availability over perfect accounting.
package battery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/models"
)

// ErrRechargeOutOfRange is returned when a recharge amount falls outside [1,100].
var ErrRechargeOutOfRange = errors.New("recharge amount must be between 1 and 100 credits")

// EntryRepo persists ledger entries. A nil repo keeps the battery
// memory-only (tests, local dev without Postgres).
type EntryRepo interface {
	Insert(ctx context.Context, e *models.CreditEntry) error
	SumSince(ctx context.Context, since time.Time) (float64, error)
}

// Snapshot is a read-only view of the battery state.
type Snapshot struct {
	TodayCredits float64            `json:"today_credits"`
	DailyLimit   float64            `json:"daily_limit"`
	Remaining    float64            `json:"remaining"`
	ByProvider   map[string]float64 `json:"by_provider"`
}

// Battery tracks today's metered spend under a single mutex so that
// check-and-debit can be fused (Reserve). The day rolls over lazily:
// whenever an operation observes a different UTC calendar day than the
// last recorded one, totals reset and the limit returns to its base.
type Battery struct {
	mu         sync.Mutex
	day        time.Time
	todayTotal float64
	byProvider map[string]float64
	dailyLimit float64
	baseLimit  float64

	repo EntryRepo
	log  *slog.Logger
	now  func() time.Time
}

// New returns a battery with the given base daily limit in credits.
func New(dailyLimit float64, repo EntryRepo, log *slog.Logger) *Battery {
	if log == nil {
		log = slog.Default()
	}
	now := time.Now
	return &Battery{
		day:        dayOf(now()),
		byProvider: make(map[string]float64),
		dailyLimit: dailyLimit,
		baseLimit:  dailyLimit,
		repo:       repo,
		log:        log,
		now:        now,
	}
}

// Prime loads today's spend from the repo so restarts don't reset the
// battery. Per-provider breakdown is not reconstructed; only the total
// gates spending.
func (b *Battery) Prime(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}
	b.mu.Lock()
	day := b.day
	b.mu.Unlock()

	total, err := b.repo.SumSince(ctx, day)
	if err != nil {
		return fmt.Errorf("sum today's credit entries: %w", err)
	}
	b.mu.Lock()
	if b.day.Equal(day) {
		b.todayTotal = total
	}
	b.mu.Unlock()
	return nil
}

// HasBudget reports whether estimatedCost fits in what remains of today's
// limit. Concurrent callers should use Reserve instead: a separate
// HasBudget/Debit pair can race and overshoot the limit.
func (b *Battery) HasBudget(estimatedCost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.todayTotal+estimatedCost <= b.dailyLimit
}

// Reserve is the fused check-and-debit: under one mutex hold it verifies
// the budget and, if it fits, records the spend. At most the remaining
// budget's worth of concurrent reservations can succeed.
func (b *Battery) Reserve(provider string, amount float64, usageUnits int64, traceID uuid.UUID) bool {
	b.mu.Lock()
	b.rollover()
	if b.todayTotal+amount > b.dailyLimit {
		b.mu.Unlock()
		return false
	}
	b.apply(provider, amount)
	b.mu.Unlock()

	b.persist(provider, amount, usageUnits, traceID)
	return true
}

// Debit records spend unconditionally. It never rejects: the budget check
// happens in HasBudget (or fused in Reserve), and a post-check debit that
// slightly overshoots is accepted as advisory bookkeeping.
func (b *Battery) Debit(provider string, amount float64, usageUnits int64, traceID uuid.UUID) {
	b.mu.Lock()
	b.rollover()
	b.apply(provider, amount)
	b.mu.Unlock()

	b.persist(provider, amount, usageUnits, traceID)
}

// DailyLimit returns today's effective limit (base plus any recharges).
func (b *Battery) DailyLimit() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.dailyLimit
}

// Status returns a snapshot of today's totals.
func (b *Battery) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	byProvider := make(map[string]float64, len(b.byProvider))
	for k, v := range b.byProvider {
		byProvider[k] = v
	}
	remaining := b.dailyLimit - b.todayTotal
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		TodayCredits: round4(b.todayTotal),
		DailyLimit:   b.dailyLimit,
		Remaining:    round4(remaining),
		ByProvider:   byProvider,
	}
}

// Recharge raises the daily limit for the current period. The caller must
// already be authenticated as an admin; the route enforces that. The raise
// does not survive the day rollover.
func (b *Battery) Recharge(credits float64) error {
	if credits < 1 || credits > 100 {
		return ErrRechargeOutOfRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.dailyLimit += credits
	b.log.Info("battery recharged", "credits", credits, "daily_limit", b.dailyLimit)
	return nil
}

// apply mutates totals; caller holds the mutex.
func (b *Battery) apply(provider string, amount float64) {
	b.todayTotal = round4(b.todayTotal + amount)
	b.byProvider[provider] = round4(b.byProvider[provider] + amount)
}

// rollover resets totals when the UTC calendar day changed since the last
// recorded operation; caller holds the mutex.
func (b *Battery) rollover() {
	today := dayOf(b.now())
	if today.Equal(b.day) {
		return
	}
	b.day = today
	b.todayTotal = 0
	b.byProvider = make(map[string]float64)
	b.dailyLimit = b.baseLimit
}

// persist writes the ledger entry outside the mutex. Repo failures are
// logged, never surfaced: an under-counted ledger beats a blocked caller.
func (b *Battery) persist(provider string, amount float64, usageUnits int64, traceID uuid.UUID) {
	if b.repo == nil {
		return
	}
	entry := &models.CreditEntry{
		ID:         uuid.New(),
		Provider:   provider,
		Amount:     round4(amount),
		UsageUnits: usageUnits,
		TraceID:    traceID,
	}
	if err := b.repo.Insert(context.Background(), entry); err != nil {
		b.log.Error("persist credit entry", "provider", provider, "trace_id", traceID, "error", err)
	}
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
