package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// BankLoader loads exam configs and their question bank from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	var exam domain.Exam
	err := l.pool.QueryRow(ctx, `
		SELECT id, title, passing_score, time_limit_minutes, max_attempts, questions_per_attempt
		FROM exams WHERE id=$1`, examID).Scan(
		&exam.Config.ID,
		&exam.Config.Title,
		&exam.Config.PassingScore,
		&exam.Config.TimeLimitMinutes,
		&exam.Config.MaxAttempts,
		&exam.Config.QuestionsPerAttempt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, fmt.Errorf("load exam %s: %w", examID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load exam %s: %w: %w", examID, domain.ErrStoreUnavailable, err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, exam_id, text, type, options, correct_answer, points, position
		FROM exam_questions WHERE exam_id=$1
		ORDER BY position, id`, examID)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load questions %s: %w: %w", examID, domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       domain.Question
			qType   string
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &qType, &options, &q.CorrectAnswer, &q.Points, &q.Position); err != nil {
			return domain.Exam{}, fmt.Errorf("scan question: %w: %w", domain.ErrStoreUnavailable, err)
		}
		q.Type = domain.QuestionType(qType)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return domain.Exam{}, fmt.Errorf("unmarshal options of %s: %w: %w", q.ID, domain.ErrInvalidExam, err)
			}
		}
		exam.Questions = append(exam.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Exam{}, fmt.Errorf("load questions %s: %w: %w", examID, domain.ErrStoreUnavailable, err)
	}
	return exam, nil
}
