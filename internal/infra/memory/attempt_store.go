package memory

import (
	"context"
	"sort"
	"sync"

	"exam-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. A single
// mutex serialises reservation and completion claims.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]domain.Attempt)}
}

func (s *AttemptStore) CountCompleted(_ context.Context, examID, participantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed, _ := s.tallyLocked(examID, participantID)
	return completed, nil
}

func (s *AttemptStore) Reserve(_ context.Context, draft domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed, highest := s.tallyLocked(draft.ExamID, draft.ParticipantID)
	if completed >= maxAttempts {
		return domain.Attempt{}, domain.ErrAttemptLimitExceeded
	}
	attempt := draft.Clone()
	attempt.AttemptNumber = highest + 1
	attempt.CompletedAt = nil
	attempt.Score = nil
	s.attempts[attempt.ID] = attempt
	return attempt.Clone(), nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrNotFound
	}
	return attempt.Clone(), nil
}

func (s *AttemptStore) SaveAnswer(_ context.Context, attemptID, questionID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrNotFound
	}
	if attempt.CompletedAt != nil {
		return domain.ErrInvalidState
	}
	if attempt.Answers == nil {
		attempt.Answers = make(map[string]string)
	}
	attempt.Answers[questionID] = answer
	s.attempts[attemptID] = attempt
	return nil
}

func (s *AttemptStore) ClaimCompletion(_ context.Context, attemptID string, c domain.Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if attempt.CompletedAt != nil {
		return false, nil
	}
	answers := make(map[string]string, len(c.Answers))
	for k, v := range c.Answers {
		answers[k] = v
	}
	c.Answers = answers
	attempt.Apply(c)
	s.attempts[attemptID] = attempt
	return true, nil
}

func (s *AttemptStore) ListByExam(_ context.Context, examID string) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attempt, 0)
	for _, attempt := range s.attempts {
		if attempt.ExamID == examID {
			out = append(out, attempt.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (s *AttemptStore) tallyLocked(examID, participantID string) (completed, highest int) {
	for _, attempt := range s.attempts {
		if attempt.ExamID != examID || attempt.ParticipantID != participantID {
			continue
		}
		if attempt.CompletedAt != nil {
			completed++
		}
		if attempt.AttemptNumber > highest {
			highest = attempt.AttemptNumber
		}
	}
	return completed, highest
}
