package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/models"
)

// MemoryRepository is an in-memory Repository used by tests and local
// development. The single mutex makes every conditional mutator atomic,
// matching the guarantees of the SQL implementation.
type MemoryRepository struct {
	mu       sync.Mutex
	plans    map[string]*models.ExamPlan
	students map[string]*models.Student // keyed by user_id
	attempts map[string]*models.MockExamAttempt
	sections map[string]*models.ExamSection // keyed by section ID
	clients  map[string]*models.APIClient   // keyed by api_key
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		plans:    make(map[string]*models.ExamPlan),
		students: make(map[string]*models.Student),
		attempts: make(map[string]*models.MockExamAttempt),
		sections: make(map[string]*models.ExamSection),
		clients:  make(map[string]*models.APIClient),
	}
}

// SeedPlan stores a plan directly, for test setup
func (r *MemoryRepository) SeedPlan(p *models.ExamPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.plans[p.ID] = &cp
}

// SeedStudent stores a student directly, for test setup
func (r *MemoryRepository) SeedStudent(s *models.Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.students[s.UserID] = &cp
}

// SeedClient stores an API client directly, for test setup
func (r *MemoryRepository) SeedClient(c *models.APIClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clients[c.APIKey] = &cp
}

func copyPlan(p *models.ExamPlan) *models.ExamPlan {
	cp := *p
	return &cp
}

func copySection(s *models.ExamSection) *models.ExamSection {
	cp := *s
	if s.Feedback != nil {
		cp.Feedback = make(map[string]string, len(s.Feedback))
		for k, v := range s.Feedback {
			cp.Feedback[k] = v
		}
	}
	return &cp
}

// copyAttempt clones an attempt together with its stored sections
func (r *MemoryRepository) copyAttempt(a *models.MockExamAttempt) *models.MockExamAttempt {
	cp := *a
	cp.Sections = nil
	for _, s := range r.sections {
		if s.AttemptID == a.ID {
			cp.Sections = append(cp.Sections, copySection(s))
		}
	}
	cp.SortSections()
	return &cp
}

// --- Plans ---

func (r *MemoryRepository) GetPlan(ctx context.Context, id string) (*models.ExamPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	return copyPlan(p), nil
}

func (r *MemoryRepository) GetActivePlan(ctx context.Context, academyID, examType string) (*models.ExamPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.ExamPlan
	for _, p := range r.plans {
		if p.AcademyID != academyID || p.ExamType != examType || p.Status != models.PlanActive {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		// Soonest expiry first; nil expiry sorts last
		switch {
		case p.ExpiresAt == nil:
		case best.ExpiresAt == nil, p.ExpiresAt.Before(*best.ExpiresAt):
			best = p
		}
	}

	if best == nil {
		return nil, nil
	}
	return copyPlan(best), nil
}

func (r *MemoryRepository) ConsumeCredits(ctx context.Context, planID string, amount float64) (*models.ExamPlan, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok {
		return nil, false, nil
	}

	if p.Status != models.PlanActive || p.TotalCredits-p.UsedCredits < amount {
		return copyPlan(p), false, nil
	}

	p.UsedCredits += amount
	return copyPlan(p), true, nil
}

func (r *MemoryRepository) RefundCredits(ctx context.Context, planID string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok {
		return nil
	}

	p.UsedCredits -= amount
	if p.UsedCredits < 0 {
		p.UsedCredits = 0
	}
	if p.Status == models.PlanExhausted && p.UsedCredits < p.TotalCredits {
		p.Status = models.PlanActive
	}
	return nil
}

func (r *MemoryRepository) ExpirePlan(ctx context.Context, planID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok || p.Status != models.PlanActive {
		return false, nil
	}
	p.Status = models.PlanExpired
	return true, nil
}

func (r *MemoryRepository) ExhaustPlan(ctx context.Context, planID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plans[planID]
	if !ok || p.Status != models.PlanActive || p.UsedCredits < p.TotalCredits {
		return false, nil
	}
	p.Status = models.PlanExhausted
	return true, nil
}

func (r *MemoryRepository) ListLapsedPlans(ctx context.Context) ([]*models.ExamPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var lapsed []*models.ExamPlan
	for _, p := range r.plans {
		if p.Status == models.PlanActive && p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
			lapsed = append(lapsed, copyPlan(p))
		}
	}
	return lapsed, nil
}

// --- Students ---

func (r *MemoryRepository) GetStudentByUser(ctx context.Context, userID string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.students[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// --- Attempts ---

func (r *MemoryRepository) CreateAttempt(ctx context.Context, a *models.MockExamAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *a
	cp.Sections = nil
	r.attempts[a.ID] = &cp

	for _, s := range a.Sections {
		r.sections[s.ID] = copySection(s)
	}
	return nil
}

func (r *MemoryRepository) GetAttempt(ctx context.Context, id string) (*models.MockExamAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok {
		return nil, nil
	}
	return r.copyAttempt(a), nil
}

func (r *MemoryRepository) ListAttempts(ctx context.Context, studentID, planID string) ([]*models.MockExamAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.MockExamAttempt
	for _, a := range r.attempts {
		if a.StudentID != studentID {
			continue
		}
		if planID != "" && a.PlanID != planID {
			continue
		}
		out = append(out, r.copyAttempt(a))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) NextAttemptNumber(ctx context.Context, studentID, planID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	max := 0
	for _, a := range r.attempts {
		if a.StudentID == studentID && a.PlanID == planID && a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max + 1, nil
}

func (r *MemoryRepository) UpdateAttempt(ctx context.Context, a *models.MockExamAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.attempts[a.ID]
	if !ok {
		return nil
	}

	stored.Status = a.Status
	stored.OverallBand = a.OverallBand
	stored.OverallPercentage = a.OverallPercentage
	stored.NeedsReconciliation = a.NeedsReconciliation
	stored.ReconciliationNote = a.ReconciliationNote
	stored.StartedAt = a.StartedAt
	stored.CompletedAt = a.CompletedAt
	return nil
}

func (r *MemoryRepository) AddAttemptCredits(ctx context.Context, attemptID string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.attempts[attemptID]; ok {
		a.CreditsUsed += amount
	}
	return nil
}

// --- Sections ---

func (r *MemoryRepository) ClaimSection(ctx context.Context, sectionID, contentSessionID string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sections[sectionID]
	if !ok || s.Status != models.SectionAvailable {
		return false, nil
	}

	s.Status = models.SectionInProgress
	s.ContentSessionID = contentSessionID
	t := startedAt
	s.StartedAt = &t
	return true, nil
}

func (r *MemoryRepository) CompleteSection(ctx context.Context, sec *models.ExamSection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sections[sec.ID]
	if !ok || s.Status != models.SectionInProgress {
		return false, nil
	}

	s.Status = models.SectionCompleted
	s.TimeElapsedSeconds = sec.TimeElapsedSeconds
	s.RawScore = sec.RawScore
	s.MaxScore = sec.MaxScore
	s.PercentageScore = sec.PercentageScore
	s.BandScore = sec.BandScore
	s.CompletedAt = sec.CompletedAt
	if sec.Feedback != nil {
		s.Feedback = make(map[string]string, len(sec.Feedback))
		for k, v := range sec.Feedback {
			s.Feedback[k] = v
		}
	}
	return true, nil
}

func (r *MemoryRepository) UnlockSection(ctx context.Context, attemptID string, order int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sections {
		if s.AttemptID == attemptID && s.Order == order {
			if s.Status != models.SectionLocked {
				return false, nil
			}
			s.Status = models.SectionAvailable
			return true, nil
		}
	}
	return false, nil
}

// --- API Clients ---

func (r *MemoryRepository) GetClientByAPIKey(ctx context.Context, apiKey string) (*models.APIClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}

// --- Health ---

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
