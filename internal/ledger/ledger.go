// Package ledger implements credit accounting over exam plans. All
// balance movement funnels through the repository's conditional writes,
// so concurrent consumers can never jointly overdraw a plan.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/models"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

// Ledger mediates every credit movement on exam plans
type Ledger struct {
	repo storage.Repository
	now  func() time.Time
}

// New creates a ledger over the given repository
func New(repo storage.Repository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  time.Now,
	}
}

// ActivePlan resolves the academy's usable plan for one exam type.
// Plans whose validity window has lapsed are transitioned to expired on
// the way (expiration is lazy; the sweeper only catches idle plans).
func (l *Ledger) ActivePlan(ctx context.Context, academyID, examType string) (*models.ExamPlan, error) {
	// An academy can hold several plans; expiring one may uncover the
	// next. Every pass removes the lapsed plan from the active set (the
	// conditional write, or a concurrent caller that beat it), so the
	// loop terminates once a usable plan surfaces or none remain.
	lapsed := 0
	for {
		plan, err := l.repo.GetActivePlan(ctx, academyID, examType)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			if lapsed > 0 {
				return nil, ErrPlanExpired
			}
			return nil, ErrPlanNotFound
		}

		if !plan.IsExpired(l.now()) {
			return plan, nil
		}

		applied, err := l.repo.ExpirePlan(ctx, plan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to expire lapsed plan: %w", err)
		}
		if applied {
			slog.Info("expired lapsed plan", "plan_id", plan.ID, "exam_type", plan.ExamType)
		}
		lapsed++
	}
}

// Balance returns the read-only balance view for the academy's plan.
// The per-section remainder is derived from the exam type's section cost.
func (l *Ledger) Balance(ctx context.Context, academyID string, cfg *models.ExamTypeConfig) (*models.CreditBalance, error) {
	plan, err := l.ActivePlan(ctx, academyID, cfg.Name)
	if err != nil {
		return nil, err
	}

	remaining := plan.Remaining()
	cost := cfg.SectionCost()

	return &models.CreditBalance{
		PlanID:             plan.ID,
		PlanName:           plan.PlanName,
		ExamType:           plan.ExamType,
		Status:             plan.Status,
		TotalCredits:       plan.TotalCredits,
		UsedCredits:        plan.UsedCredits,
		RemainingCredits:   remaining,
		RemainingFullMocks: countUnits(remaining, 1.0),
		RemainingSections:  countUnits(remaining, cost),
		ExpiresAt:          plan.ExpiresAt,
	}, nil
}

// countUnits returns how many units of the given cost fit in the
// balance. The epsilon absorbs float drift from repeated fractional
// consumption (e.g. 3 * 0.25 + 0.25).
func countUnits(remaining, cost float64) int {
	if cost <= 0 {
		return 0
	}
	return int(math.Floor(remaining/cost + 1e-9))
}

// Consume charges amount against the plan. The decrement is a single
// conditional write; when it is refused the returned error carries the
// balance observed at refusal time.
func (l *Ledger) Consume(ctx context.Context, planID string, amount float64) (*models.ExamPlan, error) {
	plan, err := l.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.Status == models.PlanCancelled {
		return nil, ErrPlanNotFound
	}

	if plan.Status == models.PlanExpired {
		return nil, ErrPlanExpired
	}

	// Lazy expiration: a plan past its window is unusable even with
	// balance left, and the transition is made durable here.
	if plan.Status == models.PlanActive && plan.IsExpired(l.now()) {
		if _, err := l.repo.ExpirePlan(ctx, plan.ID); err != nil {
			return nil, fmt.Errorf("failed to expire lapsed plan: %w", err)
		}
		return nil, ErrPlanExpired
	}

	if plan.Status == models.PlanExhausted {
		return nil, &InsufficientCreditsError{Available: plan.Remaining(), Required: amount}
	}

	updated, applied, err := l.repo.ConsumeCredits(ctx, planID, amount)
	if err != nil {
		return nil, err
	}
	if !applied {
		if updated == nil {
			return nil, ErrPlanNotFound
		}
		// The write was refused; the plan may have raced into a
		// different state since the read above.
		switch updated.Status {
		case models.PlanExpired:
			return nil, ErrPlanExpired
		case models.PlanCancelled:
			return nil, ErrPlanNotFound
		default:
			return nil, &InsufficientCreditsError{Available: updated.Remaining(), Required: amount}
		}
	}

	// Fully consumed plans transition to exhausted after the charge.
	// Best effort: a refund in flight may legitimately refuse it.
	if updated.Remaining() <= 1e-9 {
		if _, err := l.repo.ExhaustPlan(ctx, updated.ID); err != nil {
			slog.Warn("failed to mark plan exhausted", "plan_id", updated.ID, "error", err)
		} else {
			updated.Status = models.PlanExhausted
		}
	}

	return updated, nil
}

// Refund returns amount to the plan, clamped at a zero used balance.
// An exhausted plan that regains headroom becomes active again.
func (l *Ledger) Refund(ctx context.Context, planID string, amount float64) error {
	if err := l.repo.RefundCredits(ctx, planID, amount); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	slog.Info("refunded credits", "plan_id", planID, "amount", amount)
	return nil
}
