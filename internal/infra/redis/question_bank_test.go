package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionBankCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		ExamLoader: memory.NewStaticExamLoader(map[string]domain.Exam{
			"exam-1": sampleExam(),
		}),
	}
	bank := NewQuestionBank(client, loader, time.Minute)

	exam, err := bank.GetExam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("exam:exam-1:config") || !mr.Exists("exam:exam-1:questions") {
		t.Fatalf("expected exam cached in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := bank.GetExam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get cached exam: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if len(cached.Questions) != len(exam.Questions) {
		t.Fatalf("expected %d cached questions, got %d", len(exam.Questions), len(cached.Questions))
	}
	if cached.Questions[0].ID != "q1" || cached.Questions[0].CorrectAnswer != "A" {
		t.Fatalf("expected full question records in position order, got %+v", cached.Questions[0])
	}
	if cached.Config.PassingScore != 50 {
		t.Fatalf("expected config round trip, got %+v", cached.Config)
	}

	// past the ttl plus the largest jitter
	mr.FastForward(2 * time.Minute)
	_, _ = bank.GetExam(context.Background(), "exam-1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after cache expiry, loader calls=%d", loader.calls)
	}
}

func TestQuestionBankConcurrentMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	exams := make(map[string]domain.Exam)
	for i := 0; i < 16; i++ {
		exam := sampleExam()
		exam.Config.ID = fmt.Sprintf("exam-%d", i)
		exams[exam.Config.ID] = exam
	}
	bank := NewQuestionBank(newClient(mr), memory.NewStaticExamLoader(exams), time.Minute)

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

	for id := range exams {
		ttl := mr.TTL("exam:" + id + ":config")
		if ttl < time.Minute || ttl > time.Minute+6*time.Second {
			t.Fatalf("expected %s cached with jittered ttl, got %v", id, ttl)
		}
	}
}

func TestQuestionBankFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	loader := &countingLoader{
		ExamLoader: memory.NewStaticExamLoader(map[string]domain.Exam{"exam-1": sampleExam()}),
	}
	bank := NewQuestionBank(client, loader, time.Minute)
	if _, err := bank.GetExam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("expected loader fallback, got %v", err)
	}
}

type countingLoader struct {
	memory.ExamLoader
	calls int
}

func (l *countingLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	l.calls++
	return l.ExamLoader.LoadExam(ctx, examID)
}

func sampleExam() domain.Exam {
	return domain.Exam{
		Config: domain.ExamConfig{ID: "exam-1", PassingScore: 50, MaxAttempts: 2},
		Questions: []domain.Question{
			{
				ID:            "q1",
				Text:          "Pick the vowel",
				Type:          domain.MultipleChoice,
				Options:       map[string]string{"A": "a", "B": "b"},
				CorrectAnswer: "A",
				Points:        1,
				Position:      1,
			},
			{
				ID:            "q2",
				Text:          "Name the animal that meows",
				Type:          domain.OpenText,
				CorrectAnswer: "cat",
				Points:        2,
				Position:      2,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
