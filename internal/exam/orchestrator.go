// Package exam drives mock exam attempts: creation, the section
// progression state machine, credit timing per attempt mode, and score
// aggregation. All credit movement is delegated to the ledger.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proficienthub/mockexam-engine/internal/content"
	"github.com/proficienthub/mockexam-engine/internal/examtypes"
	"github.com/proficienthub/mockexam-engine/internal/ledger"
	"github.com/proficienthub/mockexam-engine/internal/models"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

// ErrInvalidMode is returned when the attempt mode is not a supported value
var ErrInvalidMode = errors.New("invalid attempt mode")

// Orchestrator coordinates attempts, sections, the ledger, and the
// content collaborators. Every operation takes the acting user
// explicitly; nothing is resolved from ambient state.
type Orchestrator struct {
	repo      storage.Repository
	credits   *ledger.Ledger
	registry  *examtypes.Registry
	generator content.Generator
	evaluator content.Evaluator // optional; nil when clients submit results directly
	now       func() time.Time
}

// New creates an orchestrator. evaluator may be nil.
func New(repo storage.Repository, credits *ledger.Ledger, registry *examtypes.Registry, generator content.Generator, evaluator content.Evaluator) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		credits:   credits,
		registry:  registry,
		generator: generator,
		evaluator: evaluator,
		now:       time.Now,
	}
}

func (o *Orchestrator) resolveStudent(ctx context.Context, userID string) (*models.Student, error) {
	student, err := o.repo.GetStudentByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve student: %w", err)
	}
	if student == nil || !student.Active {
		return nil, ErrStudentNotFound
	}
	return student, nil
}

func (o *Orchestrator) examType(name string) (*models.ExamTypeConfig, error) {
	cfg, ok := o.registry.Get(name)
	if !ok {
		return nil, &InvalidExamTypeError{Given: name, Valid: o.registry.Valid()}
	}
	return cfg, nil
}

// GetCredits returns the balance of the academy plan backing the user's
// enrollment for one exam type.
func (o *Orchestrator) GetCredits(ctx context.Context, userID, examType string) (*models.CreditBalance, error) {
	student, err := o.resolveStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg, err := o.examType(examType)
	if err != nil {
		return nil, err
	}

	return o.credits.Balance(ctx, student.AcademyID, cfg)
}

// CreateAttempt creates an attempt with its full ordered set of sections.
// Nothing is consumed at creation: SECTION mode only verifies headroom
// for the first section, FULL_MOCK defers entirely to completion.
func (o *Orchestrator) CreateAttempt(ctx context.Context, req *models.CreateAttemptRequest) (*models.AttemptView, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	student, err := o.resolveStudent(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	cfg, err := o.examType(req.ExamType)
	if err != nil {
		return nil, err
	}

	plan, err := o.credits.ActivePlan(ctx, student.AcademyID, req.ExamType)
	if err != nil {
		return nil, err
	}

	if req.Mode == models.ModeSection {
		cost := cfg.SectionCost()
		if plan.Remaining()+1e-9 < cost {
			return nil, &ledger.InsufficientCreditsError{Available: plan.Remaining(), Required: cost}
		}
	}

	attemptNumber, err := o.repo.NextAttemptNumber(ctx, student.ID, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign attempt number: %w", err)
	}

	attempt := &models.MockExamAttempt{
		ID:                    uuid.New().String(),
		StudentID:             student.ID,
		PlanID:                plan.ID,
		UserID:                req.UserID,
		ExamType:              req.ExamType,
		AttemptNumber:         attemptNumber,
		Mode:                  req.Mode,
		Status:                models.AttemptNotStarted,
		Topic:                 req.Topic,
		TotalTimeLimitMinutes: cfg.TotalTimeMinutes,
		CreatedAt:             o.now(),
	}

	for _, sc := range cfg.Sections {
		status := models.SectionAvailable
		// Full mock runs the official sequence: only the first section
		// starts unlocked.
		if req.Mode == models.ModeFullMock && sc.Order != 1 {
			status = models.SectionLocked
		}

		attempt.Sections = append(attempt.Sections, &models.ExamSection{
			ID:               uuid.New().String(),
			AttemptID:        attempt.ID,
			SectionType:      sc.Type,
			Order:            sc.Order,
			Status:           status,
			TimeLimitMinutes: sc.TimeMinutes,
		})
	}
	attempt.SortSections()

	if err := o.repo.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	slog.Info("attempt created",
		"attempt_id", attempt.ID,
		"student_id", student.ID,
		"exam_type", req.ExamType,
		"mode", req.Mode,
		"attempt_number", attemptNumber)

	return &models.AttemptView{MockExamAttempt: attempt, Progress: computeProgress(attempt)}, nil
}

// loadOwnedAttempt fetches an attempt and enforces ownership
func (o *Orchestrator) loadOwnedAttempt(ctx context.Context, attemptID, userID string) (*models.MockExamAttempt, error) {
	attempt, err := o.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if attempt.UserID != userID {
		return nil, ErrAccessDenied
	}
	return attempt, nil
}

// GetAttempt returns one attempt with progress, enforcing ownership
func (o *Orchestrator) GetAttempt(ctx context.Context, attemptID, userID string) (*models.AttemptView, error) {
	attempt, err := o.loadOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	return &models.AttemptView{MockExamAttempt: attempt, Progress: computeProgress(attempt)}, nil
}

// ListAttempts returns the user's attempts, optionally filtered by exam type
func (o *Orchestrator) ListAttempts(ctx context.Context, userID, examType string) ([]*models.AttemptView, error) {
	student, err := o.resolveStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	if examType != "" {
		if _, err := o.examType(examType); err != nil {
			return nil, err
		}
	}

	attempts, err := o.repo.ListAttempts(ctx, student.ID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	views := make([]*models.AttemptView, 0, len(attempts))
	for _, a := range attempts {
		if examType != "" && a.ExamType != examType {
			continue
		}
		views = append(views, &models.AttemptView{MockExamAttempt: a, Progress: computeProgress(a)})
	}
	return views, nil
}

// StartSection starts (or resumes) a section. In SECTION mode the credit
// is consumed before the state transition commits; a request that loses
// the claim race gets its consumption refunded and resumes the winner's
// session.
func (o *Orchestrator) StartSection(ctx context.Context, attemptID, sectionType, userID string) (*models.StartSectionResponse, error) {
	attempt, err := o.loadOwnedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	section := attempt.Section(sectionType)
	if section == nil {
		return nil, ErrSectionNotFound
	}

	switch section.Status {
	case models.SectionLocked:
		return nil, ErrSectionLocked
	case models.SectionCompleted:
		return nil, ErrSectionAlreadyCompleted
	case models.SectionInProgress:
		// Idempotent resume; no second consumption
		return resumeResponse(attempt, section), nil
	}

	cfg, err := o.examType(attempt.ExamType)
	if err != nil {
		return nil, err
	}

	charged := 0.0
	if attempt.Mode == models.ModeSection {
		cost := cfg.SectionCost()
		if _, err := o.credits.Consume(ctx, attempt.PlanID, cost); err != nil {
			return nil, err
		}
		charged = cost
	}

	sessionID, err := o.generator.GenerateSection(ctx, attempt.ExamType, sectionType, attempt.Topic)
	if err != nil {
		o.rollbackCharge(ctx, attempt.PlanID, charged)
		return nil, fmt.Errorf("failed to generate section content: %w", err)
	}

	startedAt := o.now()
	claimed, err := o.repo.ClaimSection(ctx, section.ID, sessionID, startedAt)
	if err != nil {
		o.rollbackCharge(ctx, attempt.PlanID, charged)
		return nil, fmt.Errorf("failed to claim section: %w", err)
	}

	if !claimed {
		// A concurrent tab won the claim; hand back this request's
		// charge and resume the winner's session.
		o.rollbackCharge(ctx, attempt.PlanID, charged)

		fresh, err := o.repo.GetAttempt(ctx, attemptID)
		if err != nil || fresh == nil {
			return nil, fmt.Errorf("failed to reload attempt after claim race: %w", err)
		}
		current := fresh.Section(sectionType)
		if current == nil || current.Status != models.SectionInProgress {
			return nil, ErrSectionAlreadyCompleted
		}
		return resumeResponse(fresh, current), nil
	}

	if charged > 0 {
		if err := o.repo.AddAttemptCredits(ctx, attempt.ID, charged); err != nil {
			slog.Warn("failed to record attempt credits", "attempt_id", attempt.ID, "error", err)
		}
	}

	if attempt.Status == models.AttemptNotStarted {
		attempt.Status = models.AttemptInProgress
		attempt.StartedAt = &startedAt
		if err := o.repo.UpdateAttempt(ctx, attempt); err != nil {
			slog.Warn("failed to mark attempt in progress", "attempt_id", attempt.ID, "error", err)
		}
	}

	slog.Info("section started",
		"attempt_id", attempt.ID,
		"section_type", sectionType,
		"mode", attempt.Mode,
		"charged", charged)

	return &models.StartSectionResponse{
		AttemptID:            attempt.ID,
		ExamType:             attempt.ExamType,
		SectionID:            section.ID,
		SectionType:          section.SectionType,
		Status:               models.SectionInProgress,
		TimeLimitMinutes:     section.TimeLimitMinutes,
		TimeRemainingSeconds: section.TimeLimitMinutes * 60,
		ContentSessionID:     sessionID,
		Resumed:              false,
	}, nil
}

// rollbackCharge hands back a SECTION-mode charge when the start did not
// commit. No-op for full mock starts.
func (o *Orchestrator) rollbackCharge(ctx context.Context, planID string, amount float64) {
	if amount <= 0 {
		return
	}
	if err := o.credits.Refund(ctx, planID, amount); err != nil {
		slog.Error("failed to refund uncommitted charge", "plan_id", planID, "amount", amount, "error", err)
	}
}

func resumeResponse(attempt *models.MockExamAttempt, section *models.ExamSection) *models.StartSectionResponse {
	return &models.StartSectionResponse{
		AttemptID:            attempt.ID,
		ExamType:             attempt.ExamType,
		SectionID:            section.ID,
		SectionType:          section.SectionType,
		Status:               section.Status,
		TimeLimitMinutes:     section.TimeLimitMinutes,
		TimeRemainingSeconds: section.TimeRemainingSeconds(),
		ContentSessionID:     section.ContentSessionID,
		Resumed:              true,
	}
}

// CompleteSection records a section's evaluation outcome and drives the
// progression: unlocking the next section in FULL_MOCK mode, and on the
// last section aggregating the overall result and settling the credit.
func (o *Orchestrator) CompleteSection(ctx context.Context, attemptID, sectionType string, req *models.CompleteSectionRequest) (*models.CompleteSectionResponse, error) {
	attempt, err := o.loadOwnedAttempt(ctx, attemptID, req.UserID)
	if err != nil {
		return nil, err
	}

	section := attempt.Section(sectionType)
	if section == nil {
		return nil, ErrSectionNotFound
	}

	switch section.Status {
	case models.SectionLocked:
		return nil, ErrSectionLocked
	case models.SectionCompleted:
		return nil, ErrSectionAlreadyCompleted
	case models.SectionAvailable:
		return nil, ErrSectionNotStarted
	}

	cfg, err := o.examType(attempt.ExamType)
	if err != nil {
		return nil, err
	}

	result := req.Result
	if result == nil && o.evaluator != nil && req.Answers != nil {
		result, err = o.evaluator.EvaluateSection(ctx, attempt.ExamType, sectionType, section.ContentSessionID, req.Answers)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate section: %w", err)
		}
	}

	completedAt := o.now()
	section.TimeElapsedSeconds = req.TimeElapsedSeconds
	if section.TimeElapsedSeconds < 0 {
		section.TimeElapsedSeconds = 0
	}
	section.CompletedAt = &completedAt

	if result != nil {
		section.RawScore = result.RawScore
		section.MaxScore = result.MaxScore
		section.PercentageScore = result.PercentageScore
		section.BandScore = result.BandScore
		section.Feedback = result.Feedback
	}

	// Conditional write: only one of several duplicate submissions may
	// transition the section, so finalization below runs exactly once.
	applied, err := o.repo.CompleteSection(ctx, section)
	if err != nil {
		return nil, fmt.Errorf("failed to complete section: %w", err)
	}
	if !applied {
		return nil, ErrSectionAlreadyCompleted
	}
	section.Status = models.SectionCompleted

	resp := &models.CompleteSectionResponse{
		AttemptID:       attempt.ID,
		ExamType:        attempt.ExamType,
		SectionID:       section.ID,
		SectionType:     section.SectionType,
		Status:          section.Status,
		BandScore:       section.BandScore,
		PercentageScore: section.PercentageScore,
	}

	// Full mock: completing order k unlocks order k+1
	if attempt.Mode == models.ModeFullMock {
		if next := attempt.SectionAt(section.Order + 1); next != nil && next.Status == models.SectionLocked {
			unlocked, err := o.repo.UnlockSection(ctx, attempt.ID, next.Order)
			if err != nil {
				return nil, fmt.Errorf("failed to unlock next section: %w", err)
			}
			if unlocked {
				next.Status = models.SectionAvailable
			}
		}
	}

	// The finalization decision reads fresh state: this request's copy
	// of the attempt predates any sections completed in parallel.
	fresh, err := o.repo.GetAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload attempt: %w", err)
	}
	if fresh == nil {
		return nil, ErrAttemptNotFound
	}

	if fresh.AllSectionsCompleted() {
		if fresh.Status != models.AttemptCompleted {
			if err := o.finishAttempt(ctx, fresh, cfg); err != nil {
				return nil, err
			}
		}
		resp.AllComplete = true
		resp.OverallBand = fresh.OverallBand
		resp.OverallPercentage = fresh.OverallPercentage
	} else if attempt.Mode == models.ModeFullMock {
		if next := attempt.SectionAt(section.Order + 1); next != nil {
			resp.NextSection = &models.NextSectionInfo{
				SectionType:      next.SectionType,
				TimeLimitMinutes: next.TimeLimitMinutes,
			}
		}
	}

	slog.Info("section completed",
		"attempt_id", attempt.ID,
		"section_type", sectionType,
		"band_score", section.BandScore,
		"all_complete", resp.AllComplete)

	return resp, nil
}

// finishAttempt aggregates the overall result and, for FULL_MOCK,
// settles the whole attempt cost. A refused settlement does not roll
// back the student's completed work; the attempt is flagged for
// operator reconciliation instead.
func (o *Orchestrator) finishAttempt(ctx context.Context, attempt *models.MockExamAttempt, cfg *models.ExamTypeConfig) error {
	band, percentage := aggregateResults(attempt.Sections, cfg.HalfBandRounding)

	completedAt := o.now()
	attempt.Status = models.AttemptCompleted
	attempt.CompletedAt = &completedAt
	attempt.OverallBand = band
	attempt.OverallPercentage = percentage

	if attempt.Mode == models.ModeFullMock {
		if _, err := o.credits.Consume(ctx, attempt.PlanID, 1.0); err != nil {
			attempt.NeedsReconciliation = true
			attempt.ReconciliationNote = fmt.Sprintf("deferred consumption of 1.0 credit failed: %v", err)
			slog.Warn("full mock completed without settling its credit",
				"attempt_id", attempt.ID,
				"plan_id", attempt.PlanID,
				"error", err)
		} else {
			if err := o.repo.AddAttemptCredits(ctx, attempt.ID, 1.0); err != nil {
				slog.Warn("failed to record attempt credits", "attempt_id", attempt.ID, "error", err)
			} else {
				attempt.CreditsUsed += 1.0
			}
		}
	}

	if err := o.repo.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to finalize attempt: %w", err)
	}

	slog.Info("attempt completed",
		"attempt_id", attempt.ID,
		"overall_band", band,
		"needs_reconciliation", attempt.NeedsReconciliation)

	return nil
}

// Dashboard assembles the per-student view for one exam type: balance,
// attempt history with progress, and aggregate statistics.
func (o *Orchestrator) Dashboard(ctx context.Context, userID, examType string) (*models.Dashboard, error) {
	student, err := o.resolveStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg, err := o.examType(examType)
	if err != nil {
		return nil, err
	}

	balance, err := o.credits.Balance(ctx, student.AcademyID, cfg)
	if err != nil {
		return nil, err
	}

	all, err := o.repo.ListAttempts(ctx, student.ID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	var attempts []*models.MockExamAttempt
	for _, a := range all {
		if a.ExamType == examType {
			attempts = append(attempts, a)
		}
	}

	views := make([]*models.AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, &models.AttemptView{MockExamAttempt: a, Progress: computeProgress(a)})
	}

	// The repository lists newest first; the improvement trend wants
	// chronological order.
	chronological := make([]*models.MockExamAttempt, len(attempts))
	for i, a := range attempts {
		chronological[len(attempts)-1-i] = a
	}

	return &models.Dashboard{
		ExamType:        examType,
		Credits:         balance,
		Attempts:        views,
		Stats:           computeStats(chronological),
		SectionAverages: computeSectionAverages(attempts),
	}, nil
}
