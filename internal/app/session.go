package app

import (
	"fmt"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
)

// Session is the live, single-owner state of one in-progress attempt.
type Session struct {
	id  string
	now func() time.Time

	mu          sync.Mutex
	attempt     domain.Attempt
	questions   map[string]struct{}
	finalizing  bool
	completed   bool
	countdown   *Countdown
	subscribers map[chan domain.Attempt]struct{}
}

// NewSession wraps a stored attempt. Infrastructure layers use it to seed registries.
func NewSession(attempt domain.Attempt) *Session {
	return newSessionWithClock(attempt, time.Now)
}

// NewSessionWithClock is test-only for deterministic timestamps.
func NewSessionWithClock(attempt domain.Attempt, now func() time.Time) *Session {
	return newSessionWithClock(attempt, now)
}

func newSessionWithClock(attempt domain.Attempt, now func() time.Time) *Session {
	attempt = attempt.Clone()
	questions := make(map[string]struct{}, len(attempt.QuestionOrder))
	for _, id := range attempt.QuestionOrder {
		questions[id] = struct{}{}
	}
	return &Session{
		id:          attempt.ID,
		now:         now,
		attempt:     attempt,
		questions:   questions,
		completed:   attempt.CompletedAt != nil,
		subscribers: make(map[chan domain.Attempt]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the attempt as currently captured.
func (s *Session) Snapshot() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Clone()
}

// Completed reports whether the session reached its terminal state.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Remaining reports time left and whether the attempt is timed.
func (s *Session) Remaining() (time.Duration, bool) {
	s.mu.Lock()
	countdown := s.countdown
	expiresAt := s.attempt.ExpiresAt
	s.mu.Unlock()

	if countdown != nil {
		return countdown.Remaining(), true
	}
	if expiresAt == nil {
		return 0, false
	}
	remaining := expiresAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func (s *Session) arm(countdown *Countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		countdown.Disarm()
		return
	}
	s.countdown = countdown
}

// checkCapture validates a capture before it is persisted.
func (s *Session) checkCapture(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || s.finalizing {
		return domain.ErrInvalidState
	}
	if _, ok := s.questions[questionID]; !ok {
		return fmt.Errorf("question %s is not part of attempt %s: %w", questionID, s.id, domain.ErrNotFound)
	}
	return nil
}

// capture replaces the stored answer. It fails once finalizing has begun, so a
// late answer never reaches the completion write.
func (s *Session) capture(questionID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || s.finalizing {
		return domain.ErrInvalidState
	}
	if s.attempt.Answers == nil {
		s.attempt.Answers = make(map[string]string)
	}
	s.attempt.Answers[questionID] = answer
	return nil
}

// beginFinalize freezes answer capture and returns the attempt to score.
// done is true when the session already completed; the returned attempt is then final.
func (s *Session) beginFinalize() (attempt domain.Attempt, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return s.attempt.Clone(), true, nil
	}
	if s.finalizing {
		return domain.Attempt{}, false, domain.ErrInvalidState
	}
	s.finalizing = true
	return s.attempt.Clone(), false, nil
}

// abortFinalize reopens capture after a failed scoring or completion write.
func (s *Session) abortFinalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed {
		s.finalizing = false
	}
}

// complete records the final attempt, disarms the countdown and notifies subscribers.
func (s *Session) complete(final domain.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.attempt = final.Clone()
	s.completed = true
	s.finalizing = false
	if s.countdown != nil {
		s.countdown.Disarm()
	}
	for ch := range s.subscribers {
		ch <- s.attempt.Clone()
		close(ch)
		delete(s.subscribers, ch)
	}
}

// subscribe returns a channel that receives the final attempt once.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) subscribe() (<-chan domain.Attempt, func()) {
	ch := make(chan domain.Attempt, 1)

	s.mu.Lock()
	if s.completed {
		ch <- s.attempt.Clone()
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
