package models

import (
	"time"
)

// PlanStatus represents the current state of an exam plan
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanExpired   PlanStatus = "expired"
	PlanExhausted PlanStatus = "exhausted" // all credits used
	PlanCancelled PlanStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state
func (s PlanStatus) IsTerminal() bool {
	return s == PlanExpired || s == PlanExhausted || s == PlanCancelled
}

// ExamPlan is a credit grant purchased by an academy for one exam type.
// One credit buys one full mock exam; a single section costs a fixed
// fraction of a credit (1/number-of-sections for the exam type).
//
// used_credits is mutated only through the ledger's conditional writes;
// 0 <= used_credits <= total_credits holds at all times.
type ExamPlan struct {
	ID           string     `json:"id"`
	AcademyID    string     `json:"academy_id"`
	ExamType     string     `json:"exam_type"`
	PlanName     string     `json:"plan_name"`
	TotalCredits float64    `json:"total_credits"`
	UsedCredits  float64    `json:"used_credits"`
	Status       PlanStatus `json:"status"`
	StartsAt     time.Time  `json:"starts_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Remaining returns the unconsumed credit balance.
func (p *ExamPlan) Remaining() float64 {
	return p.TotalCredits - p.UsedCredits
}

// IsExpired checks if the plan's validity window has elapsed
func (p *ExamPlan) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// CreditBalance is the read-only view of a plan's balance returned to callers
type CreditBalance struct {
	PlanID             string     `json:"exam_plan_id"`
	PlanName           string     `json:"plan_name"`
	ExamType           string     `json:"exam_type"`
	Status             PlanStatus `json:"status"`
	TotalCredits       float64    `json:"total_credits"`
	UsedCredits        float64    `json:"used_credits"`
	RemainingCredits   float64    `json:"remaining_credits"`
	RemainingFullMocks int        `json:"remaining_full_mocks"`
	RemainingSections  int        `json:"remaining_sections"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Student links a platform user to the academy they are enrolled in.
// Read-only from this service's perspective.
type Student struct {
	ID         string    `json:"id"`
	AcademyID  string    `json:"academy_id"`
	UserID     string    `json:"user_id"`
	Active     bool      `json:"active"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
