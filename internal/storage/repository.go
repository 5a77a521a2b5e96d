package storage

import (
	"context"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// Repository defines the interface for ledger and attempt persistence.
//
// Lookups return (nil, nil) when the record does not exist; domain
// packages translate that into their typed not-found errors.
//
// The conditional mutators (ConsumeCredits, ExpirePlan, ExhaustPlan,
// ClaimSection, CompleteSection, UnlockSection) must be single atomic
// read-check-write operations: the guard predicate and the write happen
// as one storage operation, because concurrent callers can race past
// any application-level check with stale state.
type Repository interface {
	// Plans
	GetPlan(ctx context.Context, id string) (*models.ExamPlan, error)
	GetActivePlan(ctx context.Context, academyID, examType string) (*models.ExamPlan, error)
	// ConsumeCredits increments used_credits by amount only if the plan
	// is still active and has at least that much headroom at the moment
	// of the write. Returns the post-write plan and whether the write
	// applied; (nil, false, nil) when the plan does not exist.
	ConsumeCredits(ctx context.Context, planID string, amount float64) (*models.ExamPlan, bool, error)
	// RefundCredits decrements used_credits by amount, clamped at zero,
	// and reactivates an exhausted plan that regains headroom.
	RefundCredits(ctx context.Context, planID string, amount float64) error
	// ExpirePlan transitions active -> expired; false if the plan was
	// no longer active (a concurrent caller already transitioned it).
	ExpirePlan(ctx context.Context, planID string) (bool, error)
	// ExhaustPlan transitions active -> exhausted, guarded by
	// used_credits having reached total_credits.
	ExhaustPlan(ctx context.Context, planID string) (bool, error)
	// ListLapsedPlans returns active plans whose expires_at has passed.
	ListLapsedPlans(ctx context.Context) ([]*models.ExamPlan, error)

	// Students
	GetStudentByUser(ctx context.Context, userID string) (*models.Student, error)

	// Attempts
	CreateAttempt(ctx context.Context, a *models.MockExamAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.MockExamAttempt, error)
	ListAttempts(ctx context.Context, studentID, planID string) ([]*models.MockExamAttempt, error)
	NextAttemptNumber(ctx context.Context, studentID, planID string) (int, error)
	UpdateAttempt(ctx context.Context, a *models.MockExamAttempt) error
	// AddAttemptCredits accumulates credits_used on the attempt record.
	AddAttemptCredits(ctx context.Context, attemptID string, amount float64) error

	// Sections
	// ClaimSection transitions available -> in_progress, recording the
	// start time and content session handle; false when the section was
	// no longer available (a concurrent request claimed it first).
	ClaimSection(ctx context.Context, sectionID, contentSessionID string, startedAt time.Time) (bool, error)
	// CompleteSection transitions in_progress -> completed, recording the
	// scores; false when the section was no longer in progress (a
	// concurrent request completed it first).
	CompleteSection(ctx context.Context, s *models.ExamSection) (bool, error)
	// UnlockSection transitions the section at the given 1-based order
	// from locked to available; false if it was not locked.
	UnlockSection(ctx context.Context, attemptID string, order int) (bool, error)

	// API Clients
	GetClientByAPIKey(ctx context.Context, apiKey string) (*models.APIClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
