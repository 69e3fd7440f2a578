package app

import (
	"context"
	"errors"
	"time"

	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// QuestionBank loads authoritative exam content (from cache/backing store).
type QuestionBank interface {
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
}

// AttemptStore persists attempts. Reserve and ClaimCompletion must be atomic
// against concurrent callers, including callers in other processes.
type AttemptStore interface {
	CountCompleted(ctx context.Context, examID, participantID string) (int, error)
	Reserve(ctx context.Context, draft domain.Attempt, maxAttempts int) (domain.Attempt, error)
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	SaveAnswer(ctx context.Context, attemptID, questionID, answer string) error
	// ClaimCompletion writes c only if the attempt is still in progress and
	// reports whether this call performed the write.
	ClaimCompletion(ctx context.Context, attemptID string, c domain.Completion) (bool, error)
	ListByExam(ctx context.Context, examID string) ([]domain.Attempt, error)
}

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(attemptID string) (*Session, bool)
	Delete(attemptID string)
}

// CertificateIssuer is the external certificate collaborator.
type CertificateIssuer interface {
	IssueCertificate(ctx context.Context, req domain.CertificateRequest) error
}

// AttemptService contains the exam attempt use cases.
type AttemptService struct {
	bank         QuestionBank
	attempts     AttemptStore
	sessions     SessionRepository
	ledger       *Ledger
	selector     *Selector
	certificates *CertificateTrigger

	log               *zap.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
	completionTimeout time.Duration
	expiryRetry       time.Duration
	sf                singleflight.Group
}

type Option func(*AttemptService)

func WithLogger(log *zap.Logger) Option {
	return func(s *AttemptService) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AttemptService) { s.metrics = m }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

func WithSelector(selector *Selector) Option {
	return func(s *AttemptService) { s.selector = selector }
}

// WithCompletionTimeout bounds the store and issuer calls of one completion.
func WithCompletionTimeout(d time.Duration) Option {
	return func(s *AttemptService) { s.completionTimeout = d }
}

// WithExpiryRetry sets the delay before a failed forced submission is retried.
func WithExpiryRetry(d time.Duration) Option {
	return func(s *AttemptService) { s.expiryRetry = d }
}

func NewAttemptService(bank QuestionBank, attempts AttemptStore, sessions SessionRepository, issuer CertificateIssuer, opts ...Option) *AttemptService {
	s := &AttemptService{
		bank:              bank,
		attempts:          attempts,
		sessions:          sessions,
		ledger:            NewLedger(attempts),
		log:               zap.NewNop(),
		now:               time.Now,
		completionTimeout: 10 * time.Second,
		expiryRetry:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.selector == nil {
		s.selector = NewSelector()
	}
	s.certificates = NewCertificateTrigger(issuer, s.log, s.metrics, s.completionTimeout)
	return s
}

// Start creates a new attempt for the participant and arms its countdown.
// The ceiling is checked before any question is selected.
func (s *AttemptService) Start(ctx context.Context, examID, participantID string) (domain.Attempt, error) {
	exam, err := s.bank.GetExam(ctx, examID)
	if err != nil {
		return domain.Attempt{}, &domain.AttemptError{Op: "start attempt", ExamID: examID, ParticipantID: participantID, Err: err}
	}

	if err := s.ledger.Check(ctx, exam.Config, participantID); err != nil {
		if errors.Is(err, domain.ErrAttemptLimitExceeded) {
			s.metrics.Refused(examID)
		}
		return domain.Attempt{}, err
	}

	selection := s.selector.Select(exam)
	startedAt := s.now()
	draft := domain.Attempt{
		ID:              uuid.NewString(),
		ExamID:          examID,
		ParticipantID:   participantID,
		StartedAt:       startedAt,
		Answers:         make(map[string]string),
		QuestionOrder:   selection.QuestionOrder,
		OptionOrderings: selection.OptionOrderings,
	}
	if limit, timed := exam.Config.TimeLimit(); timed {
		expiresAt := startedAt.Add(limit)
		draft.ExpiresAt = &expiresAt
	}

	attempt, err := s.ledger.Reserve(ctx, exam.Config, draft)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptLimitExceeded) {
			s.metrics.Refused(examID)
		}
		return domain.Attempt{}, err
	}

	session := s.attach(attempt)
	s.metrics.Started(examID)
	s.log.Info("attempt started",
		zap.String("exam_id", examID),
		zap.String("participant_id", participantID),
		zap.String("attempt_id", attempt.ID),
		zap.Int("attempt_number", attempt.AttemptNumber),
		zap.Int("questions", len(attempt.QuestionOrder)))
	return session.Snapshot(), nil
}

// Resume re-attaches a live session to an in-progress attempt. An attempt whose
// deadline has passed is force-submitted and returned completed.
func (s *AttemptService) Resume(ctx context.Context, attemptID string) (domain.Attempt, error) {
	v, err, _ := s.sf.Do("resume:"+attemptID, func() (interface{}, error) {
		return s.resume(ctx, attemptID)
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return v.(domain.Attempt).Clone(), nil
}

func (s *AttemptService) resume(ctx context.Context, attemptID string) (domain.Attempt, error) {
	if session, ok := s.sessions.Get(attemptID); ok && !session.Completed() {
		return session.Snapshot(), nil
	}

	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, &domain.AttemptError{Op: "resume attempt", AttemptID: attemptID, Err: err}
	}
	if attempt.CompletedAt != nil {
		return domain.Attempt{}, s.invalidState("resume attempt", attempt)
	}
	if s.expired(attempt) {
		return s.finalizeShared(ctx, attemptID, domain.EndReasonTimeExpired)
	}

	session := s.attach(attempt)
	s.log.Info("attempt resumed",
		zap.String("exam_id", attempt.ExamID),
		zap.String("participant_id", attempt.ParticipantID),
		zap.String("attempt_id", attempt.ID))
	return session.Snapshot(), nil
}

// Capture replaces the answer for one question of an in-progress attempt.
// Past the deadline the answer is refused and the attempt is force-submitted.
func (s *AttemptService) Capture(ctx context.Context, attemptID, questionID, answer string) error {
	session, err := s.sessionFor(ctx, attemptID)
	if err != nil {
		return err
	}
	if snapshot := session.Snapshot(); s.expired(snapshot) {
		if _, err := s.finalizeShared(ctx, attemptID, domain.EndReasonTimeExpired); err != nil {
			s.log.Error("forced submission failed", zap.String("attempt_id", attemptID), zap.Error(err))
		}
		return s.invalidState("capture answer", snapshot)
	}
	if err := session.checkCapture(questionID); err != nil {
		return s.captureError(session, err)
	}
	if err := s.attempts.SaveAnswer(ctx, attemptID, questionID, answer); err != nil {
		return s.captureError(session, err)
	}
	if err := session.capture(questionID, answer); err != nil {
		return s.captureError(session, err)
	}
	return nil
}

// Submit completes the attempt. A second submit returns the recorded result
// without scoring again.
func (s *AttemptService) Submit(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.finalizeShared(ctx, attemptID, domain.EndReasonSubmitted)
}

// Get returns the live view of an attempt, falling back to the store.
func (s *AttemptService) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	if session, ok := s.sessions.Get(attemptID); ok {
		return session.Snapshot(), nil
	}
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, &domain.AttemptError{Op: "get attempt", AttemptID: attemptID, Err: err}
	}
	return attempt, nil
}

// Remaining reports the time left on an in-progress attempt and whether it is timed.
func (s *AttemptService) Remaining(ctx context.Context, attemptID string) (time.Duration, bool, error) {
	if session, ok := s.sessions.Get(attemptID); ok && !session.Completed() {
		remaining, timed := session.Remaining()
		return remaining, timed, nil
	}
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return 0, false, &domain.AttemptError{Op: "remaining time", AttemptID: attemptID, Err: err}
	}
	if attempt.CompletedAt != nil {
		return 0, false, s.invalidState("remaining time", attempt)
	}
	if attempt.ExpiresAt == nil {
		return 0, false, nil
	}
	remaining := attempt.ExpiresAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}

// Subscribe returns a channel that receives the attempt once it completes.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(_ context.Context, attemptID string) (<-chan domain.Attempt, func(), error) {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return nil, nil, &domain.AttemptError{Op: "subscribe", AttemptID: attemptID, Err: domain.ErrNotFound}
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Review replays a completed attempt in its frozen order.
func (s *AttemptService) Review(ctx context.Context, attemptID string) (domain.AttemptReview, error) {
	attempt, exam, err := s.completedWithExam(ctx, "review attempt", attemptID)
	if err != nil {
		return domain.AttemptReview{}, err
	}

	bank := exam.QuestionByID()
	review := domain.AttemptReview{Attempt: attempt, Items: make([]domain.ReviewItem, 0, len(attempt.QuestionOrder))}
	for _, questionID := range attempt.QuestionOrder {
		question, ok := bank[questionID]
		if !ok {
			return domain.AttemptReview{}, &domain.AttemptError{Op: "review attempt", ExamID: attempt.ExamID, ParticipantID: attempt.ParticipantID, AttemptID: attemptID, Err: domain.ErrNotFound}
		}
		answer := attempt.Answers[questionID]
		review.Items = append(review.Items, domain.ReviewItem{
			QuestionID:    questionID,
			Text:          question.Text,
			Type:          question.Type,
			Options:       attempt.OptionOrderings[questionID],
			Answer:        answer,
			CorrectAnswer: question.CorrectAnswer,
			Correct:       IsCorrect(question, answer),
			Weight:        question.Weight(),
		})
	}
	return review, nil
}

// Rescore recomputes a completed attempt's score and compares it with the stored one.
func (s *AttemptService) Rescore(ctx context.Context, attemptID string) (domain.RescoreReport, error) {
	attempt, exam, err := s.completedWithExam(ctx, "rescore attempt", attemptID)
	if err != nil {
		return domain.RescoreReport{}, err
	}
	result, err := Score(exam, attempt.QuestionOrder, attempt.Answers)
	if err != nil {
		return domain.RescoreReport{}, s.attemptError("rescore attempt", attempt, err)
	}

	report := domain.RescoreReport{
		AttemptID:    attemptID,
		StoredPassed: attempt.Passed,
		Result:       result,
	}
	if attempt.Score != nil {
		report.StoredScore = *attempt.Score
	}
	report.Consistent = attempt.Score != nil && report.StoredScore == result.Score && attempt.Passed == result.Passed
	return report, nil
}

// ExamStats aggregates attempts of the given participants; none means everyone.
func (s *AttemptService) ExamStats(ctx context.Context, examID string, participantIDs []string) (domain.ExamStats, error) {
	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return domain.ExamStats{}, &domain.AttemptError{Op: "exam stats", ExamID: examID, Err: err}
	}
	if len(participantIDs) > 0 {
		group := make(map[string]struct{}, len(participantIDs))
		for _, id := range participantIDs {
			group[id] = struct{}{}
		}
		filtered := attempts[:0]
		for _, attempt := range attempts {
			if _, ok := group[attempt.ParticipantID]; ok {
				filtered = append(filtered, attempt)
			}
		}
		attempts = filtered
	}
	return AggregateAttempts(examID, attempts), nil
}

// AttemptsLeft reports how many more attempts a participant may complete.
func (s *AttemptService) AttemptsLeft(ctx context.Context, examID, participantID string) (int, error) {
	exam, err := s.bank.GetExam(ctx, examID)
	if err != nil {
		return 0, &domain.AttemptError{Op: "attempts left", ExamID: examID, ParticipantID: participantID, Err: err}
	}
	return s.ledger.AttemptsLeft(ctx, exam.Config, participantID)
}

// attach registers a live session before arming its countdown, so an already
// expired deadline finds the session when it fires.
func (s *AttemptService) attach(attempt domain.Attempt) *Session {
	session := newSessionWithClock(attempt, s.now)
	s.sessions.Put(session)
	if attempt.ExpiresAt != nil {
		attemptID := attempt.ID
		session.arm(StartCountdown(*attempt.ExpiresAt, s.now, func() { s.expire(attemptID) }))
	}
	return session
}

func (s *AttemptService) sessionFor(ctx context.Context, attemptID string) (*Session, error) {
	if session, ok := s.sessions.Get(attemptID); ok {
		return session, nil
	}
	if _, err := s.Resume(ctx, attemptID); err != nil {
		return nil, err
	}
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		// resume found the deadline passed and completed the attempt
		attempt, err := s.attempts.Get(ctx, attemptID)
		if err != nil {
			return nil, &domain.AttemptError{Op: "capture answer", AttemptID: attemptID, Err: err}
		}
		return nil, s.invalidState("capture answer", attempt)
	}
	return session, nil
}

// expire runs on the countdown goroutine. A failed forced submission is
// retried for as long as this process holds the live session.
func (s *AttemptService) expire(attemptID string) {
	s.log.Info("attempt time expired, forcing submission", zap.String("attempt_id", attemptID))
	if _, err := s.finalizeShared(context.Background(), attemptID, domain.EndReasonTimeExpired); err != nil {
		session, live := s.sessions.Get(attemptID)
		if !live || session.Completed() {
			return
		}
		s.log.Error("forced submission failed, retrying",
			zap.String("attempt_id", attemptID),
			zap.Duration("retry_in", s.expiryRetry),
			zap.Error(err))
		time.AfterFunc(s.expiryRetry, func() { s.expire(attemptID) })
	}
}

// finalizeShared collapses concurrent completions of one attempt in this process
// into a single scoring and completion write. The write is detached from the
// caller's cancellation since every collapsed caller waits on it.
func (s *AttemptService) finalizeShared(ctx context.Context, attemptID string, reason domain.EndReason) (domain.Attempt, error) {
	v, err, _ := s.sf.Do("finalize:"+attemptID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.completionTimeout)
		defer cancel()
		return s.finalize(ctx, attemptID, reason)
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return v.(domain.Attempt).Clone(), nil
}

func (s *AttemptService) finalize(ctx context.Context, attemptID string, reason domain.EndReason) (domain.Attempt, error) {
	session, live := s.sessions.Get(attemptID)

	var attempt domain.Attempt
	if live {
		snapshot, done, err := session.beginFinalize()
		if err != nil {
			return domain.Attempt{}, s.attemptError("submit attempt", domain.Attempt{ID: attemptID}, err)
		}
		if done {
			return snapshot, nil
		}
		attempt = snapshot
	} else {
		stored, err := s.attempts.Get(ctx, attemptID)
		if err != nil {
			return domain.Attempt{}, &domain.AttemptError{Op: "submit attempt", AttemptID: attemptID, Err: err}
		}
		if stored.CompletedAt != nil {
			return stored, nil
		}
		attempt = stored
	}

	abort := func(err error) (domain.Attempt, error) {
		if live {
			session.abortFinalize()
		}
		s.log.Warn("attempt completion failed, attempt stays in progress",
			zap.String("exam_id", attempt.ExamID),
			zap.String("participant_id", attempt.ParticipantID),
			zap.String("attempt_id", attemptID),
			zap.Error(err))
		return domain.Attempt{}, s.attemptError("submit attempt", attempt, err)
	}

	if live {
		// another instance may have resumed the attempt and persisted answers
		// this session never saw
		stored, err := s.attempts.Get(ctx, attemptID)
		if err != nil {
			return abort(err)
		}
		if stored.CompletedAt != nil {
			s.settle(session, live, stored)
			return stored, nil
		}
		attempt.Answers = stored.Answers
	}
	if reason == domain.EndReasonSubmitted && s.expired(attempt) {
		reason = domain.EndReasonTimeExpired
	}

	exam, err := s.bank.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return abort(err)
	}
	result, err := Score(exam, attempt.QuestionOrder, attempt.Answers)
	if err != nil {
		return abort(err)
	}

	completion := domain.Completion{
		CompletedAt: s.now(),
		Answers:     attempt.Answers,
		Score:       result.Score,
		Passed:      result.Passed,
		EndReason:   reason,
	}
	claimed, err := s.attempts.ClaimCompletion(ctx, attemptID, completion)
	if err != nil {
		return abort(err)
	}
	if !claimed {
		stored, err := s.attempts.Get(ctx, attemptID)
		if err != nil {
			return abort(err)
		}
		s.settle(session, live, stored)
		s.log.Info("attempt already completed elsewhere",
			zap.String("attempt_id", attemptID),
			zap.String("exam_id", stored.ExamID))
		return stored, nil
	}

	attempt.Apply(completion)
	s.settle(session, live, attempt)
	s.metrics.Completed(attempt.ExamID, string(reason), attempt.Passed, result.Score)
	s.log.Info("attempt completed",
		zap.String("exam_id", attempt.ExamID),
		zap.String("participant_id", attempt.ParticipantID),
		zap.String("attempt_id", attemptID),
		zap.Int("attempt_number", attempt.AttemptNumber),
		zap.Int("score", result.Score),
		zap.Bool("passed", result.Passed),
		zap.String("reason", string(reason)))

	s.certificates.Fire(attempt)
	return attempt.Clone(), nil
}

func (s *AttemptService) settle(session *Session, live bool, final domain.Attempt) {
	if !live {
		return
	}
	session.complete(final)
	s.sessions.Delete(final.ID)
}

func (s *AttemptService) completedWithExam(ctx context.Context, op, attemptID string) (domain.Attempt, domain.Exam, error) {
	attempt, err := s.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, domain.Exam{}, err
	}
	if attempt.CompletedAt == nil {
		return domain.Attempt{}, domain.Exam{}, s.invalidState(op, attempt)
	}
	exam, err := s.bank.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return domain.Attempt{}, domain.Exam{}, s.attemptError(op, attempt, err)
	}
	return attempt, exam, nil
}

func (s *AttemptService) expired(attempt domain.Attempt) bool {
	return attempt.ExpiresAt != nil && !s.now().Before(*attempt.ExpiresAt)
}

func (s *AttemptService) captureError(session *Session, err error) error {
	return s.attemptError("capture answer", session.Snapshot(), err)
}

func (s *AttemptService) invalidState(op string, attempt domain.Attempt) error {
	return s.attemptError(op, attempt, domain.ErrInvalidState)
}

func (s *AttemptService) attemptError(op string, attempt domain.Attempt, err error) error {
	var attemptErr *domain.AttemptError
	if errors.As(err, &attemptErr) {
		return err
	}
	return &domain.AttemptError{
		Op:            op,
		ExamID:        attempt.ExamID,
		ParticipantID: attempt.ParticipantID,
		AttemptID:     attempt.ID,
		Err:           err,
	}
}
