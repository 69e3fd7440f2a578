package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from the authoritative store.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.Exam, error)
}

// QuestionBank caches validated exams with TTL to avoid repeated DB hits.
type QuestionBank struct {
	loader ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedExam
}

type cachedExam struct {
	exam      domain.Exam
	expiresAt time.Time
}

func NewQuestionBank(loader ExamLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedExam),
	}
}

func (b *QuestionBank) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	if exam, ok := b.cached(examID); ok {
		return exam, nil
	}

	result, err, _ := b.sf.Do(examID, func() (interface{}, error) {
		if exam, ok := b.cached(examID); ok {
			return exam, nil
		}

		exam, err := b.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}
		if err := exam.Validate(); err != nil {
			return domain.Exam{}, err
		}

		b.mu.Lock()
		b.cache[examID] = cachedExam{
			exam:      exam,
			expiresAt: b.clock().Add(b.ttlWithJitter()),
		}
		b.mu.Unlock()
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (b *QuestionBank) cached(examID string) (domain.Exam, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.cache[examID]
	if !ok || !entry.expiresAt.After(b.clock()) {
		return domain.Exam{}, false
	}
	return entry.exam, true
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticExamLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticExamLoader struct {
	exams map[string]domain.Exam
}

func NewStaticExamLoader(exams map[string]domain.Exam) *StaticExamLoader {
	return &StaticExamLoader{exams: exams}
}

func (l *StaticExamLoader) LoadExam(_ context.Context, examID string) (domain.Exam, error) {
	if exam, ok := l.exams[examID]; ok {
		return exam, nil
	}
	return domain.Exam{}, domain.ErrNotFound
}
