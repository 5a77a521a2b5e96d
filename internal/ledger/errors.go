package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanNotFound is returned when no usable plan exists for the
	// requested academy and exam type. Cancelled plans are reported as
	// not found; cancellation is an administrative action and its
	// details are not surfaced to students.
	ErrPlanNotFound = errors.New("no active exam plan found")

	// ErrPlanExpired is returned when the plan's validity window has
	// passed, regardless of remaining balance.
	ErrPlanExpired = errors.New("exam plan has expired")
)

// InsufficientCreditsError is returned when a consumption attempt does
// not fit in the plan's remaining balance. Available reflects the
// balance observed when the conditional write was refused.
type InsufficientCreditsError struct {
	Available float64
	Required  float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %.2f available, %.2f required", e.Available, e.Required)
}
