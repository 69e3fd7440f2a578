package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is returned when an attempt is not in the state an operation requires.
	ErrInvalidState = errors.New("attempt is not in the expected state")
	// ErrAttemptLimitExceeded is returned when a participant has used every allowed attempt.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrNotFound indicates a missing exam, question or attempt.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps I/O failures of an external store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidExam indicates bank content that fails validation.
	ErrInvalidExam = errors.New("invalid exam")
)

// AttemptError carries the identifiers a caller needs to render an error.
type AttemptError struct {
	Op            string
	ExamID        string
	ParticipantID string
	AttemptID     string
	Err           error
}

func (e *AttemptError) Error() string {
	var parts []string
	if e.ExamID != "" {
		parts = append(parts, "exam="+e.ExamID)
	}
	if e.ParticipantID != "" {
		parts = append(parts, "participant="+e.ParticipantID)
	}
	if e.AttemptID != "" {
		parts = append(parts, "attempt="+e.AttemptID)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, strings.Join(parts, " "), e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }
