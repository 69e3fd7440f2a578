package app

import (
	"fmt"
	"strings"

	"exam-attempt-service/internal/domain"
)

// Score grades captured answers against the authoritative bank. Only questions in
// the frozen order count; a question missing from the bank fails the whole scoring.
func Score(exam domain.Exam, order []string, answers map[string]string) (domain.ScoreResult, error) {
	bank := exam.QuestionByID()
	result := domain.ScoreResult{
		Questions: make([]domain.QuestionResult, 0, len(order)),
	}

	for _, questionID := range order {
		question, ok := bank[questionID]
		if !ok {
			return domain.ScoreResult{}, fmt.Errorf("question %s of exam %s: %w", questionID, exam.Config.ID, domain.ErrNotFound)
		}
		weight := question.Weight()
		correct := IsCorrect(question, answers[questionID])

		earned := 0
		if correct {
			earned = weight
		}
		result.EarnedPoints += earned
		result.TotalPoints += weight
		result.Questions = append(result.Questions, domain.QuestionResult{
			QuestionID: questionID,
			Correct:    correct,
			Earned:     earned,
			Weight:     weight,
		})
	}

	result.Score = Percent(result.EarnedPoints, result.TotalPoints)
	result.Passed = result.Score >= exam.Config.PassingScore
	return result, nil
}

// IsCorrect compares one captured answer with the question's key. Empty answers are wrong.
func IsCorrect(question domain.Question, answer string) bool {
	if answer == "" {
		return false
	}
	switch question.Type {
	case domain.MultipleChoice:
		return answer == question.CorrectAnswer
	case domain.OpenText:
		got := normalize(answer)
		return got != "" && got == normalize(question.CorrectAnswer)
	default:
		return false
	}
}

// Percent rounds half up; an exam worth no points scores 0.
func Percent(earned, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*earned + total) / (2 * total)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
