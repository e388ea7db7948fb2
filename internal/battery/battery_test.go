package battery

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atiendo/backend/internal/models"
)

// ---------------------------------------------------------------------------
// 1. Budget gate and advisory debit
// ---------------------------------------------------------------------------

func TestHasBudgetAndDebit(t *testing.T) {
	b := New(5, nil, nil)
	trace := uuid.New()

	// Prime to 4.9 credits spent today.
	b.Debit(models.ProviderLLM, 4.9, 1200, trace)

	if !b.HasBudget(0.05) {
		t.Fatal("HasBudget(0.05) with 0.1 remaining should be true")
	}
	b.Debit(models.ProviderLLM, 0.05, 40, trace)

	snap := b.Status()
	if snap.TodayCredits != 4.95 {
		t.Errorf("today credits: got %v, want 4.95", snap.TodayCredits)
	}
	if snap.Remaining != 0.05 {
		t.Errorf("remaining: got %v, want 0.05", snap.Remaining)
	}
	if snap.ByProvider[models.ProviderLLM] != 4.95 {
		t.Errorf("llm provider total: got %v, want 4.95", snap.ByProvider[models.ProviderLLM])
	}

	if b.HasBudget(0.2) {
		t.Error("HasBudget(0.2) with 0.05 remaining should be false")
	}

	// Debit never rejects, even past the limit.
	b.Debit(models.ProviderTTS, 0.2, 300, trace)
	if got := b.Status().TodayCredits; got != 5.15 {
		t.Errorf("today credits after overshoot debit: got %v, want 5.15", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Reserve: fused check-and-debit under concurrency
// ---------------------------------------------------------------------------

func TestReserveConcurrentOvershoot(t *testing.T) {
	b := New(5, nil, nil)
	trace := uuid.New()
	b.Debit(models.ProviderLLM, 4.9, 0, trace)

	// 0.1 credits remain. 20 goroutines each try to reserve 0.08;
	// exactly one can fit.
	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Reserve(models.ProviderLLM, 0.08, 0, trace) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("concurrent reservations past the gate: got %d, want 1", succeeded)
	}
	if got := b.Status().TodayCredits; got != 4.98 {
		t.Errorf("today credits: got %v, want 4.98", got)
	}
}

func TestReserveExactFit(t *testing.T) {
	b := New(1, nil, nil)
	if !b.Reserve(models.ProviderLLM, 1, 0, uuid.New()) {
		t.Error("reserving exactly the full limit should succeed")
	}
	if b.Reserve(models.ProviderLLM, 0.0001, 0, uuid.New()) {
		t.Error("reserve on a full battery should fail")
	}
}

// ---------------------------------------------------------------------------
// 3. Recharge bounds
// ---------------------------------------------------------------------------

func TestRechargeBounds(t *testing.T) {
	b := New(5, nil, nil)

	if err := b.Recharge(150); err != ErrRechargeOutOfRange {
		t.Errorf("Recharge(150): got %v, want ErrRechargeOutOfRange", err)
	}
	if err := b.Recharge(0.5); err != ErrRechargeOutOfRange {
		t.Errorf("Recharge(0.5): got %v, want ErrRechargeOutOfRange", err)
	}
	if err := b.Recharge(10); err != nil {
		t.Fatalf("Recharge(10): %v", err)
	}
	if got := b.Status().DailyLimit; got != 15 {
		t.Errorf("daily limit after recharge: got %v, want 15", got)
	}
}

// ---------------------------------------------------------------------------
// 4. Lazy day rollover
// ---------------------------------------------------------------------------

func TestDayRollover(t *testing.T) {
	b := New(5, nil, nil)

	current := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	b.day = dayOf(current)

	b.Debit(models.ProviderLLM, 3, 0, uuid.New())
	if err := b.Recharge(2); err != nil {
		t.Fatalf("Recharge: %v", err)
	}
	if got := b.Status().TodayCredits; got != 3 {
		t.Fatalf("today credits before rollover: got %v, want 3", got)
	}

	// Cross midnight: totals reset and the recharge does not carry over.
	current = current.Add(20 * time.Minute)
	snap := b.Status()
	if snap.TodayCredits != 0 {
		t.Errorf("today credits after rollover: got %v, want 0", snap.TodayCredits)
	}
	if snap.DailyLimit != 5 {
		t.Errorf("daily limit after rollover: got %v, want base 5", snap.DailyLimit)
	}
	if !b.HasBudget(5) {
		t.Error("full budget should be available after rollover")
	}
}
