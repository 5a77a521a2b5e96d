package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/models"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

func newTestLedger(plan *models.ExamPlan) (*Ledger, *storage.MemoryRepository) {
	repo := storage.NewMemoryRepository()
	if plan != nil {
		repo.SeedPlan(plan)
	}
	return New(repo), repo
}

func testPlan(total, used float64) *models.ExamPlan {
	return &models.ExamPlan{
		ID:           "plan-1",
		AcademyID:    "academy-1",
		ExamType:     "ielts_academic",
		PlanName:     "IELTS 10-pack",
		TotalCredits: total,
		UsedCredits:  used,
		Status:       models.PlanActive,
		StartsAt:     time.Now().Add(-24 * time.Hour),
		CreatedAt:    time.Now().Add(-24 * time.Hour),
	}
}

func TestConsumeDecrementsBalance(t *testing.T) {
	l, _ := newTestLedger(testPlan(10, 0))

	plan, err := l.Consume(context.Background(), "plan-1", 1.0)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if plan.UsedCredits != 1.0 {
		t.Errorf("expected used credits 1.0, got %f", plan.UsedCredits)
	}
	if plan.Remaining() != 9.0 {
		t.Errorf("expected remaining 9.0, got %f", plan.Remaining())
	}
}

func TestConsumeInsufficientCredits(t *testing.T) {
	l, _ := newTestLedger(testPlan(1, 0.75))

	_, err := l.Consume(context.Background(), "plan-1", 1.0)

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Available != 0.25 {
		t.Errorf("expected available 0.25, got %f", insufficient.Available)
	}
	if insufficient.Required != 1.0 {
		t.Errorf("expected required 1.0, got %f", insufficient.Required)
	}
}

func TestConsumePlanNotFound(t *testing.T) {
	l, _ := newTestLedger(nil)

	_, err := l.Consume(context.Background(), "missing", 1.0)
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestConsumeCancelledPlanReportedAsNotFound(t *testing.T) {
	plan := testPlan(10, 0)
	plan.Status = models.PlanCancelled
	l, _ := newTestLedger(plan)

	_, err := l.Consume(context.Background(), "plan-1", 1.0)
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound for cancelled plan, got %v", err)
	}
}

func TestConsumeLazyExpiration(t *testing.T) {
	plan := testPlan(10, 2)
	expired := time.Now().Add(-time.Hour)
	plan.ExpiresAt = &expired
	l, repo := newTestLedger(plan)

	_, err := l.Consume(context.Background(), "plan-1", 1.0)
	if !errors.Is(err, ErrPlanExpired) {
		t.Fatalf("expected ErrPlanExpired, got %v", err)
	}

	// The transition must be durable, not just the error
	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.Status != models.PlanExpired {
		t.Errorf("expected stored status expired, got %s", stored.Status)
	}
	if stored.UsedCredits != 2 {
		t.Errorf("expiration must not touch the balance, got used=%f", stored.UsedCredits)
	}
}

func TestConsumeTransitionsToExhausted(t *testing.T) {
	l, repo := newTestLedger(testPlan(2, 1))

	plan, err := l.Consume(context.Background(), "plan-1", 1.0)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if plan.Status != models.PlanExhausted {
		t.Errorf("expected returned status exhausted, got %s", plan.Status)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.Status != models.PlanExhausted {
		t.Errorf("expected stored status exhausted, got %s", stored.Status)
	}
}

func TestConsumeExhaustedPlanFailsBeforeWrite(t *testing.T) {
	plan := testPlan(2, 2)
	plan.Status = models.PlanExhausted
	l, _ := newTestLedger(plan)

	_, err := l.Consume(context.Background(), "plan-1", 0.25)

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Available != 0 {
		t.Errorf("expected available 0, got %f", insufficient.Available)
	}
}

// Two concurrent consumers against a one-credit plan: exactly one may win.
func TestConcurrentConsumeNeverOversells(t *testing.T) {
	const workers = 16

	l, repo := newTestLedger(testPlan(1, 0))

	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.Consume(context.Background(), "plan-1", 1.0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var insufficient *InsufficientCreditsError
		if !errors.As(err, &insufficient) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("expected exactly 1 successful consumption, got %d", wins)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.UsedCredits != 1.0 {
		t.Errorf("expected used credits 1.0 after race, got %f", stored.UsedCredits)
	}
}

func TestRefundClampsAtZero(t *testing.T) {
	l, repo := newTestLedger(testPlan(10, 0.25))

	if err := l.Refund(context.Background(), "plan-1", 1.0); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.UsedCredits != 0 {
		t.Errorf("expected used credits clamped to 0, got %f", stored.UsedCredits)
	}
}

func TestRefundReactivatesExhaustedPlan(t *testing.T) {
	plan := testPlan(2, 2)
	plan.Status = models.PlanExhausted
	l, repo := newTestLedger(plan)

	if err := l.Refund(context.Background(), "plan-1", 1.0); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.Status != models.PlanActive {
		t.Errorf("expected plan reactivated, got %s", stored.Status)
	}
	if stored.UsedCredits != 1 {
		t.Errorf("expected used credits 1, got %f", stored.UsedCredits)
	}
}

func TestBalanceCountsUnits(t *testing.T) {
	cfg := &models.ExamTypeConfig{
		Name: "ielts_academic",
		Sections: []models.SectionConfig{
			{Type: "listening", Order: 1, TimeMinutes: 40},
			{Type: "reading", Order: 2, TimeMinutes: 60},
			{Type: "writing", Order: 3, TimeMinutes: 60},
			{Type: "speaking", Order: 4, TimeMinutes: 15},
		},
	}

	l, _ := newTestLedger(testPlan(10, 7.5))

	balance, err := l.Balance(context.Background(), "academy-1", cfg)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}

	if balance.RemainingCredits != 2.5 {
		t.Errorf("expected remaining 2.5, got %f", balance.RemainingCredits)
	}
	if balance.RemainingFullMocks != 2 {
		t.Errorf("expected 2 full mocks, got %d", balance.RemainingFullMocks)
	}
	if balance.RemainingSections != 10 {
		t.Errorf("expected 10 sections, got %d", balance.RemainingSections)
	}
}

func TestActivePlanUncoversNextAfterExpiry(t *testing.T) {
	lapsed := testPlan(10, 0)
	expiredAt := time.Now().Add(-time.Hour)
	lapsed.ExpiresAt = &expiredAt

	current := testPlan(5, 0)
	current.ID = "plan-2"
	futureExpiry := time.Now().Add(24 * time.Hour)
	current.ExpiresAt = &futureExpiry

	repo := storage.NewMemoryRepository()
	repo.SeedPlan(lapsed)
	repo.SeedPlan(current)
	l := New(repo)

	plan, err := l.ActivePlan(context.Background(), "academy-1", "ielts_academic")
	if err != nil {
		t.Fatalf("ActivePlan failed: %v", err)
	}
	if plan.ID != "plan-2" {
		t.Errorf("expected plan-2 after expiring the lapsed plan, got %s", plan.ID)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.Status != models.PlanExpired {
		t.Errorf("expected lapsed plan marked expired, got %s", stored.Status)
	}
}

func TestActivePlanClearsLongLapsedBacklog(t *testing.T) {
	repo := storage.NewMemoryRepository()

	// Many lapsed plans queued ahead of the one usable plan
	for i := 0; i < 7; i++ {
		p := testPlan(10, 10)
		p.ID = "lapsed-" + string(rune('a'+i))
		expiredAt := time.Now().Add(-time.Duration(i+1) * time.Hour)
		p.ExpiresAt = &expiredAt
		repo.SeedPlan(p)
	}
	current := testPlan(5, 0)
	current.ID = "plan-current"
	futureExpiry := time.Now().Add(24 * time.Hour)
	current.ExpiresAt = &futureExpiry
	repo.SeedPlan(current)

	l := New(repo)

	plan, err := l.ActivePlan(context.Background(), "academy-1", "ielts_academic")
	if err != nil {
		t.Fatalf("ActivePlan failed: %v", err)
	}
	if plan.ID != "plan-current" {
		t.Errorf("expected plan-current behind the lapsed backlog, got %s", plan.ID)
	}

	for i := 0; i < 7; i++ {
		stored, _ := repo.GetPlan(context.Background(), "lapsed-"+string(rune('a'+i)))
		if stored.Status != models.PlanExpired {
			t.Errorf("lapsed plan %s not expired, got %s", stored.ID, stored.Status)
		}
	}
}

func TestActivePlanAllLapsedReportsExpired(t *testing.T) {
	plan := testPlan(10, 0)
	expiredAt := time.Now().Add(-time.Hour)
	plan.ExpiresAt = &expiredAt
	l, repo := newTestLedger(plan)

	_, err := l.ActivePlan(context.Background(), "academy-1", "ielts_academic")
	if !errors.Is(err, ErrPlanExpired) {
		t.Fatalf("expected ErrPlanExpired, got %v", err)
	}

	stored, _ := repo.GetPlan(context.Background(), "plan-1")
	if stored.Status != models.PlanExpired {
		t.Errorf("expected durable expiry, got %s", stored.Status)
	}
}
