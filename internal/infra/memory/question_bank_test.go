package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"exam-attempt-service/internal/domain"
)

func TestQuestionBankCaches(t *testing.T) {
	loader := &countingLoader{
		ExamLoader: NewStaticExamLoader(map[string]domain.Exam{
			"exam-1": sampleExam(),
		}),
	}
	bank := NewQuestionBank(loader, time.Minute)

	if _, err := bank.GetExam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := bank.GetExam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("get exam 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	// past the ttl plus the largest jitter
	now := time.Now()
	bank.clock = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := bank.GetExam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("get exam 3: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls)
	}
}

func TestQuestionBankConcurrentMisses(t *testing.T) {
	exams := make(map[string]domain.Exam)
	for i := 0; i < 16; i++ {
		exam := sampleExam()
		exam.Config.ID = fmt.Sprintf("exam-%d", i)
		exams[exam.Config.ID] = exam
	}
	bank := NewQuestionBank(NewStaticExamLoader(exams), time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, len(exams))
	for id := range exams {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := bank.GetExam(context.Background(), id); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("get exam: %v", err)
	}

	bank.mu.RLock()
	defer bank.mu.RUnlock()
	for id := range exams {
		entry, ok := bank.cache[id]
		if !ok {
			t.Fatalf("expected %s cached", id)
		}
		if ttl := entry.expiresAt.Sub(time.Now()); ttl > time.Minute+6*time.Second {
			t.Fatalf("expected ttl within jitter bound, got %v", ttl)
		}
	}
}

func TestQuestionBankRejectsInvalidExam(t *testing.T) {
	exam := sampleExam()
	exam.Questions[0].CorrectAnswer = "Z"
	bank := NewQuestionBank(NewStaticExamLoader(map[string]domain.Exam{"exam-1": exam}), time.Minute)

	_, err := bank.GetExam(context.Background(), "exam-1")
	if !errors.Is(err, domain.ErrInvalidExam) {
		t.Fatalf("expected invalid exam, got %v", err)
	}
}

func TestQuestionBankUnknownExam(t *testing.T) {
	bank := NewQuestionBank(NewStaticExamLoader(nil), time.Minute)
	if _, err := bank.GetExam(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	ExamLoader
	calls int
}

func (l *countingLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	l.calls++
	return l.ExamLoader.LoadExam(ctx, examID)
}

func sampleExam() domain.Exam {
	return domain.Exam{
		Config: domain.ExamConfig{ID: "exam-1", PassingScore: 50, MaxAttempts: 1},
		Questions: []domain.Question{
			{
				ID:            "q1",
				ExamID:        "exam-1",
				Text:          "What is 2 + 2?",
				Type:          domain.MultipleChoice,
				Options:       map[string]string{"A": "4", "B": "5"},
				CorrectAnswer: "A",
				Points:        1,
			},
			{
				ID:            "q2",
				ExamID:        "exam-1",
				Text:          "Name the animal that meows",
				Type:          domain.OpenText,
				CorrectAnswer: "cat",
				Points:        1,
			},
		},
	}
}
