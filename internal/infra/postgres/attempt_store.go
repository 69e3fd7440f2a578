package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/uptrace/bun"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:exam_attempts,alias:a"`

	ID              string                     `bun:"id,pk"`
	ExamID          string                     `bun:"exam_id,notnull"`
	ParticipantID   string                     `bun:"participant_id,notnull"`
	AttemptNumber   int                        `bun:"attempt_number,notnull"`
	StartedAt       time.Time                  `bun:"started_at,notnull"`
	ExpiresAt       *time.Time                 `bun:"expires_at"`
	CompletedAt     *time.Time                 `bun:"completed_at"`
	Answers         map[string]string          `bun:"answers,type:jsonb,notnull"`
	QuestionOrder   []string                   `bun:"question_order,type:jsonb,notnull"`
	OptionOrderings map[string][]domain.Option `bun:"option_orderings,type:jsonb,notnull"`
	Score           *int                       `bun:"score"`
	Passed          bool                       `bun:"passed,notnull"`
	EndReason       string                     `bun:"end_reason,nullzero"`
}

func toRow(a domain.Attempt) *attemptRow {
	row := &attemptRow{
		ID:              a.ID,
		ExamID:          a.ExamID,
		ParticipantID:   a.ParticipantID,
		AttemptNumber:   a.AttemptNumber,
		StartedAt:       a.StartedAt,
		ExpiresAt:       a.ExpiresAt,
		CompletedAt:     a.CompletedAt,
		Answers:         a.Answers,
		QuestionOrder:   a.QuestionOrder,
		OptionOrderings: a.OptionOrderings,
		Score:           a.Score,
		Passed:          a.Passed,
		EndReason:       string(a.EndReason),
	}
	if row.Answers == nil {
		row.Answers = map[string]string{}
	}
	if row.QuestionOrder == nil {
		row.QuestionOrder = []string{}
	}
	if row.OptionOrderings == nil {
		row.OptionOrderings = map[string][]domain.Option{}
	}
	return row
}

func (r attemptRow) toDomain() domain.Attempt {
	a := domain.Attempt{
		ID:              r.ID,
		ExamID:          r.ExamID,
		ParticipantID:   r.ParticipantID,
		AttemptNumber:   r.AttemptNumber,
		StartedAt:       r.StartedAt,
		ExpiresAt:       r.ExpiresAt,
		CompletedAt:     r.CompletedAt,
		Answers:         r.Answers,
		QuestionOrder:   r.QuestionOrder,
		OptionOrderings: r.OptionOrderings,
		Score:           r.Score,
		Passed:          r.Passed,
		EndReason:       domain.EndReason(r.EndReason),
	}
	if a.Answers == nil {
		a.Answers = map[string]string{}
	}
	return a
}

// AttemptStore persists attempts in the exam_attempts table via bun.
// Reservations for one (exam, participant) pair are serialized with a
// transaction-scoped advisory lock, so numbering and the attempt ceiling
// hold across service instances.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) CountCompleted(ctx context.Context, examID, participantID string) (int, error) {
	count, err := s.db.NewSelect().
		Model((*attemptRow)(nil)).
		Where("exam_id = ?", examID).
		Where("participant_id = ?", participantID).
		Where("completed_at IS NOT NULL").
		Count(ctx)
	if err != nil {
		return 0, storeError("count completed attempts", err)
	}
	return count, nil
}

func (s *AttemptStore) Reserve(ctx context.Context, draft domain.Attempt, maxAttempts int) (domain.Attempt, error) {
	row := toRow(draft)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", draft.ExamID+"/"+draft.ParticipantID); err != nil {
			return err
		}

		var completed, highest int
		err := tx.NewSelect().
			Model((*attemptRow)(nil)).
			ColumnExpr("COUNT(*) FILTER (WHERE completed_at IS NOT NULL)").
			ColumnExpr("COALESCE(MAX(attempt_number), 0)").
			Where("exam_id = ?", draft.ExamID).
			Where("participant_id = ?", draft.ParticipantID).
			Scan(ctx, &completed, &highest)
		if err != nil {
			return err
		}
		if completed >= maxAttempts {
			return domain.ErrAttemptLimitExceeded
		}

		row.AttemptNumber = highest + 1
		_, err = tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if errors.Is(err, domain.ErrAttemptLimitExceeded) {
		return domain.Attempt{}, err
	}
	if err != nil {
		return domain.Attempt{}, storeError("reserve attempt", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := new(attemptRow)
	if err := s.db.NewSelect().Model(row).Where("id = ?", attemptID).Scan(ctx); err != nil {
		return domain.Attempt{}, storeError("get attempt", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) SaveAnswer(ctx context.Context, attemptID, questionID, answer string) error {
	res, err := s.db.NewUpdate().
		Model((*attemptRow)(nil)).
		Set("answers = jsonb_set(answers, ARRAY[?]::text[], to_jsonb(?::text))", questionID, answer).
		Where("id = ?", attemptID).
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return storeError("save answer", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*attemptRow)(nil)).Where("id = ?", attemptID).Exists(ctx)
	if err != nil {
		return storeError("save answer", err)
	}
	if !exists {
		return fmt.Errorf("save answer %s: %w", attemptID, domain.ErrNotFound)
	}
	return fmt.Errorf("save answer %s: %w", attemptID, domain.ErrInvalidState)
}

func (s *AttemptStore) ClaimCompletion(ctx context.Context, attemptID string, c domain.Completion) (bool, error) {
	answers := c.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}

	res, err := s.db.NewUpdate().
		Model((*attemptRow)(nil)).
		Set("completed_at = ?", c.CompletedAt).
		Set("answers = ?::jsonb", string(raw)).
		Set("score = ?", c.Score).
		Set("passed = ?", c.Passed).
		Set("end_reason = ?", string(c.EndReason)).
		Where("id = ?", attemptID).
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, storeError("claim completion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("claim completion", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.db.NewSelect().Model((*attemptRow)(nil)).Where("id = ?", attemptID).Exists(ctx)
	if err != nil {
		return false, storeError("claim completion", err)
	}
	if !exists {
		return false, fmt.Errorf("claim completion %s: %w", attemptID, domain.ErrNotFound)
	}
	return false, nil
}

func (s *AttemptStore) ListByExam(ctx context.Context, examID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("exam_id = ?", examID).
		Order("participant_id ASC", "attempt_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeError("list attempts", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
