package app

import (
	"context"

	"exam-attempt-service/internal/domain"
)

// Ledger enforces the attempt ceiling and owns attempt numbering.
// Only completed attempts count toward MaxAttempts; every created attempt
// consumes the next number, so numbers stay contiguous from 1.
type Ledger struct {
	store AttemptStore
}

func NewLedger(store AttemptStore) *Ledger {
	return &Ledger{store: store}
}

// Check refuses a new attempt once the completed count reached the ceiling.
func (l *Ledger) Check(ctx context.Context, cfg domain.ExamConfig, participantID string) error {
	completed, err := l.store.CountCompleted(ctx, cfg.ID, participantID)
	if err != nil {
		return &domain.AttemptError{Op: "check attempt limit", ExamID: cfg.ID, ParticipantID: participantID, Err: err}
	}
	if completed >= cfg.MaxAttempts {
		return &domain.AttemptError{Op: "check attempt limit", ExamID: cfg.ID, ParticipantID: participantID, Err: domain.ErrAttemptLimitExceeded}
	}
	return nil
}

// Reserve persists the draft with the next attempt number. The store repeats the
// ceiling check inside the same atomic step, so a racing start cannot slip past it.
func (l *Ledger) Reserve(ctx context.Context, cfg domain.ExamConfig, draft domain.Attempt) (domain.Attempt, error) {
	attempt, err := l.store.Reserve(ctx, draft, cfg.MaxAttempts)
	if err != nil {
		return domain.Attempt{}, &domain.AttemptError{Op: "reserve attempt", ExamID: cfg.ID, ParticipantID: draft.ParticipantID, Err: err}
	}
	return attempt, nil
}

// AttemptsLeft reports how many more attempts the participant may complete.
func (l *Ledger) AttemptsLeft(ctx context.Context, cfg domain.ExamConfig, participantID string) (int, error) {
	completed, err := l.store.CountCompleted(ctx, cfg.ID, participantID)
	if err != nil {
		return 0, &domain.AttemptError{Op: "count attempts", ExamID: cfg.ID, ParticipantID: participantID, Err: err}
	}
	left := cfg.MaxAttempts - completed
	if left < 0 {
		left = 0
	}
	return left, nil
}
