package cli

import (
	"context"
	"database/sql"
	"os"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/config"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/events"
	"exam-attempt-service/internal/infra/memory"
	"exam-attempt-service/internal/infra/postgres"
	redisinfra "exam-attempt-service/internal/infra/redis"
	"exam-attempt-service/internal/logging"
	"exam-attempt-service/internal/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
)

// runtime holds the wired service and everything that must be closed with it.
type runtime struct {
	service *app.AttemptService
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime wires the attempt service from config. Without Redis or Postgres
// configured it falls back to in-memory stores seeded with the sample exams.
func buildRuntime(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*runtime, error) {
	rt := &runtime{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	var (
		loader   memory.ExamLoader = memory.NewStaticExamLoader(sampleExams())
		attempts app.AttemptStore  = memory.NewAttemptStore()
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		loader = postgres.NewBankLoader(pool)

		db := openBunDB(cfg.Postgres.URL)
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		attempts = postgres.NewAttemptStore(db)
	}

	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, bankTTL)
	} else {
		bank = memory.NewQuestionBank(loader, bankTTL)
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		sessionTTL := config.TTLDuration(cfg.Session.TTL, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL, instanceName())
	} else {
		sessions = memory.NewSessionStore()
	}

	publisher, err := newCertificatePublisher(ctx, cfg.Certificates, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = publisher.Close() })

	rt.service = app.NewAttemptService(
		bank,
		attempts,
		sessions,
		events.NewCertificatePublisher(publisher, cfg.Certificates.Topic),
		app.WithLogger(log),
		app.WithMetrics(m),
		app.WithCompletionTimeout(config.TTLDuration(cfg.Certificates.Timeout, 10*time.Second)),
	)
	return rt, nil
}

// newCertificatePublisher publishes to Kafka when brokers are configured.
// Otherwise requests go to an in-process channel whose consumer only logs them.
func newCertificatePublisher(ctx context.Context, cfg config.Certificates, log *zap.Logger) (message.Publisher, error) {
	adapter := logging.NewWatermillAdapter(log)
	if len(cfg.Brokers) > 0 {
		return events.NewKafkaPublisher(cfg.Brokers, adapter)
	}

	pubSub := events.NewInProcessPubSub(adapter)
	topic := cfg.Topic
	if topic == "" {
		topic = events.DefaultCertificateTopic
	}
	messages, err := pubSub.Subscribe(ctx, topic)
	if err != nil {
		_ = pubSub.Close()
		return nil, err
	}
	go func() {
		for msg := range messages {
			log.Info("certificate request received",
				zap.String("attempt_id", msg.Metadata.Get("idempotency_key")),
				zap.String("exam_id", msg.Metadata.Get("exam_id")),
				zap.String("score", msg.Metadata.Get("score")))
			msg.Ack()
		}
	}()
	return pubSub, nil
}

func openBunDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "exam-service"
	}
	return host
}

// sampleExams seeds the in-memory bank when no Postgres is configured.
func sampleExams() map[string]domain.Exam {
	limit := 30
	return map[string]domain.Exam{
		"exam-1": {
			Config: domain.ExamConfig{
				ID:               "exam-1",
				Title:            "Sample exam",
				PassingScore:     50,
				TimeLimitMinutes: &limit,
				MaxAttempts:      2,
			},
			Questions: []domain.Question{
				{
					ID:            "q1",
					ExamID:        "exam-1",
					Text:          "What is 2 + 2?",
					Type:          domain.MultipleChoice,
					Options:       map[string]string{"A": "4", "B": "3", "C": "5"},
					CorrectAnswer: "A",
					Points:        1,
					Position:      1,
				},
				{
					ID:            "q2",
					ExamID:        "exam-1",
					Text:          "Which animal says meow?",
					Type:          domain.OpenText,
					CorrectAnswer: "cat",
					Points:        1,
					Position:      2,
				},
			},
		},
	}
}

func loadConfigAndLogger(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Log), nil
}
