package exam

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStudentNotFound is returned when the user has no active
	// academy enrollment.
	ErrStudentNotFound = errors.New("student enrollment not found")

	// ErrAttemptNotFound is returned when the attempt does not exist.
	ErrAttemptNotFound = errors.New("mock exam attempt not found")

	// ErrSectionNotFound is returned when the attempt has no section of
	// the requested type.
	ErrSectionNotFound = errors.New("section not found")

	// ErrSectionLocked is returned for operations against a section the
	// progression has not reached yet.
	ErrSectionLocked = errors.New("section is locked")

	// ErrSectionNotStarted is returned when completing a section that
	// was never started.
	ErrSectionNotStarted = errors.New("section has not been started")

	// ErrSectionAlreadyCompleted is returned when starting or completing
	// a section that already reached its terminal state.
	ErrSectionAlreadyCompleted = errors.New("section already completed")

	// ErrAccessDenied is returned when the acting user does not own the
	// attempt.
	ErrAccessDenied = errors.New("attempt belongs to another user")
)

// InvalidExamTypeError is returned when the requested exam type is not
// registered; Valid lists the accepted names.
type InvalidExamTypeError struct {
	Given string
	Valid []string
}

func (e *InvalidExamTypeError) Error() string {
	return fmt.Sprintf("invalid exam type %q, valid types: %s", e.Given, strings.Join(e.Valid, ", "))
}
