package models

import (
	"sort"
	"time"
)

// AttemptMode selects how credits are charged for an attempt
type AttemptMode string

const (
	// ModeFullMock runs all sections in sequence; the whole credit is
	// charged once, when the last section completes.
	ModeFullMock AttemptMode = "full_mock"
	// ModeSection makes every section independently startable; each
	// section is charged at start.
	ModeSection AttemptMode = "section"
)

// Valid reports whether the mode is one of the supported values
func (m AttemptMode) Valid() bool {
	return m == ModeFullMock || m == ModeSection
}

// AttemptStatus represents the lifecycle of a mock exam attempt
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// SectionStatus represents the lifecycle of one timed section
type SectionStatus string

const (
	SectionLocked     SectionStatus = "locked"
	SectionAvailable  SectionStatus = "available"
	SectionInProgress SectionStatus = "in_progress"
	SectionCompleted  SectionStatus = "completed"
)

// MockExamAttempt is one attempt instance for a student against one plan.
// Sections are owned by value; the plan is referenced by ID only.
type MockExamAttempt struct {
	ID            string        `json:"id"`
	StudentID     string        `json:"student_id"`
	PlanID        string        `json:"exam_plan_id"`
	UserID        string        `json:"user_id"`
	ExamType      string        `json:"exam_type"`
	AttemptNumber int           `json:"attempt_number"`
	Mode          AttemptMode   `json:"mode"`
	Status        AttemptStatus `json:"status"`
	Topic         string        `json:"topic,omitempty"`

	TotalTimeLimitMinutes int     `json:"total_time_limit_minutes"`
	CreditsUsed           float64 `json:"credits_used"`

	OverallBand       string   `json:"overall_band,omitempty"`
	OverallPercentage *float64 `json:"overall_percentage,omitempty"`

	// Set when a full-mock attempt finished its work but the deferred
	// credit consumption could not be satisfied; the attempt still
	// completes and an operator reconciles the balance later.
	NeedsReconciliation bool   `json:"needs_reconciliation,omitempty"`
	ReconciliationNote  string `json:"reconciliation_note,omitempty"`

	Sections []*ExamSection `json:"sections"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Section finds a section by type; nil if the attempt has no such section
func (a *MockExamAttempt) Section(sectionType string) *ExamSection {
	for _, s := range a.Sections {
		if s.SectionType == sectionType {
			return s
		}
	}
	return nil
}

// SectionAt finds a section by its 1-based order
func (a *MockExamAttempt) SectionAt(order int) *ExamSection {
	for _, s := range a.Sections {
		if s.Order == order {
			return s
		}
	}
	return nil
}

// AllSectionsCompleted reports whether every section reached its terminal state
func (a *MockExamAttempt) AllSectionsCompleted() bool {
	if len(a.Sections) == 0 {
		return false
	}
	for _, s := range a.Sections {
		if s.Status != SectionCompleted {
			return false
		}
	}
	return true
}

// SortSections orders the sections slice by their fixed 1-based order
func (a *MockExamAttempt) SortSections() {
	sort.Slice(a.Sections, func(i, j int) bool {
		return a.Sections[i].Order < a.Sections[j].Order
	})
}

// ExamSection is one timed section within an attempt. Never mutated
// directly by clients; all transitions go through the orchestrator.
type ExamSection struct {
	ID          string        `json:"id"`
	AttemptID   string        `json:"attempt_id"`
	SectionType string        `json:"section_type"`
	Order       int           `json:"order"`
	Status      SectionStatus `json:"status"`

	TimeLimitMinutes   int `json:"time_limit_minutes"`
	TimeElapsedSeconds int `json:"time_elapsed_seconds"`

	RawScore        *float64          `json:"raw_score,omitempty"`
	MaxScore        *float64          `json:"max_score,omitempty"`
	PercentageScore *float64          `json:"percentage_score,omitempty"`
	BandScore       string            `json:"band_score,omitempty"`
	Feedback        map[string]string `json:"feedback,omitempty"`

	// Opaque handle to the generated content session; the client polls
	// the content service with it, this service never dereferences it.
	ContentSessionID string `json:"content_session_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TimeRemainingSeconds returns the budget left as of the recorded elapsed time
func (s *ExamSection) TimeRemainingSeconds() int {
	remaining := s.TimeLimitMinutes*60 - s.TimeElapsedSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SectionResult carries the evaluation outcome submitted on completion.
// Produced by the external evaluation collaborator, passed through as-is.
type SectionResult struct {
	RawScore        *float64          `json:"raw_score,omitempty"`
	MaxScore        *float64          `json:"max_score,omitempty"`
	PercentageScore *float64          `json:"percentage_score,omitempty"`
	BandScore       string            `json:"band_score,omitempty"`
	Feedback        map[string]string `json:"feedback,omitempty"`
}

// Progress is the display-only completion indicator for an attempt.
// An in-progress section counts as half done; this has no bearing on
// credit accounting.
type Progress struct {
	Percentage int `json:"percentage"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Total      int `json:"total"`
}

// CreateAttemptRequest is the payload for creating a mock exam attempt
type CreateAttemptRequest struct {
	UserID   string      `json:"user_id"`
	ExamType string      `json:"exam_type"`
	Mode     AttemptMode `json:"mode"`
	Topic    string      `json:"topic,omitempty"`
}

// StartSectionRequest is the payload for starting (or resuming) a section
type StartSectionRequest struct {
	UserID string `json:"user_id"`
}

// CompleteSectionRequest is the payload for completing a section.
// Result carries the evaluation outcome; Answers may be supplied instead
// when the server-side evaluator is configured.
type CompleteSectionRequest struct {
	UserID             string         `json:"user_id"`
	TimeElapsedSeconds int            `json:"time_elapsed_seconds"`
	Result             *SectionResult `json:"result,omitempty"`
	Answers            map[string]any `json:"answers,omitempty"`
}

// StartSectionResponse is returned when a section starts or resumes
type StartSectionResponse struct {
	AttemptID            string        `json:"attempt_id"`
	ExamType             string        `json:"exam_type"`
	SectionID            string        `json:"section_id"`
	SectionType          string        `json:"section_type"`
	Status               SectionStatus `json:"status"`
	TimeLimitMinutes     int           `json:"time_limit_minutes"`
	TimeRemainingSeconds int           `json:"time_remaining_seconds"`
	ContentSessionID     string        `json:"content_session_id,omitempty"`
	Resumed              bool          `json:"resumed"`
}

// NextSectionInfo points the client at the next available section
type NextSectionInfo struct {
	SectionType      string `json:"section_type"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
}

// CompleteSectionResponse is returned after a section completes
type CompleteSectionResponse struct {
	AttemptID         string           `json:"attempt_id"`
	ExamType          string           `json:"exam_type"`
	SectionID         string           `json:"section_id"`
	SectionType       string           `json:"section_type"`
	Status            SectionStatus    `json:"status"`
	BandScore         string           `json:"band_score,omitempty"`
	PercentageScore   *float64         `json:"percentage_score,omitempty"`
	AllComplete       bool             `json:"all_sections_complete"`
	NextSection       *NextSectionInfo `json:"next_section,omitempty"`
	OverallBand       string           `json:"overall_band,omitempty"`
	OverallPercentage *float64         `json:"overall_percentage,omitempty"`
}

// AttemptView is an attempt plus its display-only progress
type AttemptView struct {
	*MockExamAttempt
	Progress Progress `json:"progress"`
}

// SectionTypeStats aggregates completed results per section type
type SectionTypeStats struct {
	Average  float64 `json:"average"`
	Best     float64 `json:"best"`
	Attempts int     `json:"attempts"`
}

// DashboardStats summarizes a student's history for one exam type
type DashboardStats struct {
	TotalAttempts     int      `json:"total_attempts"`
	CompletedAttempts int      `json:"completed_attempts"`
	InProgress        int      `json:"in_progress_attempts"`
	AverageBand       string   `json:"average_band,omitempty"`
	BestBand          string   `json:"best_band,omitempty"`
	ImprovementTrend  *float64 `json:"improvement_trend,omitempty"`
}

// Dashboard is the full per-student view for one exam type
type Dashboard struct {
	ExamType        string                      `json:"exam_type"`
	Credits         *CreditBalance              `json:"credits"`
	Attempts        []*AttemptView              `json:"attempts"`
	Stats           DashboardStats              `json:"statistics"`
	SectionAverages map[string]SectionTypeStats `json:"section_averages"`
}
