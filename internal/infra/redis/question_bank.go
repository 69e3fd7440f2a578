package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from the authoritative store.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.Exam, error)
}

// QuestionBank caches exams in Redis and falls back to a loader on cache miss.
// Config is stored as:    SET  exam:{examID}:config    {json}
// Questions are stored as: HSET exam:{examID}:questions {questionID} {json}
type QuestionBank struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader ExamLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	if exam, ok := b.fromCache(ctx, examID); ok {
		return exam, nil
	}

	result, err, _ := b.sf.Do(examID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if exam, ok := b.fromCache(ctx, examID); ok {
			return exam, nil
		}

		exam, err := b.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}
		if err := exam.Validate(); err != nil {
			return domain.Exam{}, err
		}
		b.store(ctx, exam)
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (b *QuestionBank) fromCache(ctx context.Context, examID string) (domain.Exam, bool) {
	pipe := b.client.Pipeline()
	configCmd := pipe.Get(ctx, b.configKey(examID))
	questionsCmd := pipe.HGetAll(ctx, b.questionsKey(examID))
	if _, err := pipe.Exec(ctx); err != nil {
		// redis.Nil on a miss, anything else means the cache is unusable; both fall back to the loader
		return domain.Exam{}, false
	}

	var exam domain.Exam
	if err := json.Unmarshal([]byte(configCmd.Val()), &exam.Config); err != nil {
		return domain.Exam{}, false
	}
	for _, raw := range questionsCmd.Val() {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.Exam{}, false
		}
		exam.Questions = append(exam.Questions, q)
	}
	sort.Slice(exam.Questions, func(i, j int) bool {
		if exam.Questions[i].Position != exam.Questions[j].Position {
			return exam.Questions[i].Position < exam.Questions[j].Position
		}
		return exam.Questions[i].ID < exam.Questions[j].ID
	})
	return exam, true
}

func (b *QuestionBank) store(ctx context.Context, exam domain.Exam) {
	config, err := json.Marshal(exam.Config)
	if err != nil {
		return
	}
	configKey := b.configKey(exam.Config.ID)
	questionsKey := b.questionsKey(exam.Config.ID)
	ttl := b.ttlWithJitter()

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, questionsKey)
	for _, q := range exam.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return
		}
		pipe.HSet(ctx, questionsKey, q.ID, raw)
	}
	pipe.Set(ctx, configKey, config, ttl)
	if ttl > 0 && len(exam.Questions) > 0 {
		pipe.Expire(ctx, questionsKey, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (b *QuestionBank) configKey(examID string) string {
	return "exam:" + examID + ":config"
}

func (b *QuestionBank) questionsKey(examID string) string {
	return "exam:" + examID + ":questions"
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
