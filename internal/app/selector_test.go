package app_test

import (
	"fmt"
	"math/rand"
	"testing"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
)

func bankOf(n int) domain.Exam {
	exam := domain.Exam{Config: domain.ExamConfig{ID: "exam-1", PassingScore: 50, MaxAttempts: 1}}
	for i := 0; i < n; i++ {
		exam.Questions = append(exam.Questions, domain.Question{
			ID:            fmt.Sprintf("q%d", i),
			Type:          domain.MultipleChoice,
			Options:       map[string]string{"A": "alpha", "B": "beta", "C": "gamma", "D": "delta"},
			CorrectAnswer: "C",
		})
	}
	return exam
}

func TestSelectTruncatesToQuestionsPerAttempt(t *testing.T) {
	exam := bankOf(10)
	exam.Config.QuestionsPerAttempt = 4

	selection := app.NewSelectorWithSource(rand.NewSource(1)).Select(exam)
	if len(selection.QuestionOrder) != 4 {
		t.Fatalf("expected 4 questions, got %d", len(selection.QuestionOrder))
	}
	seen := make(map[string]bool)
	for _, id := range selection.QuestionOrder {
		if seen[id] {
			t.Fatalf("question %s selected twice", id)
		}
		seen[id] = true
	}
	if len(selection.OptionOrderings) != 4 {
		t.Fatalf("expected orderings for selected questions only, got %d", len(selection.OptionOrderings))
	}
}

func TestSelectUsesWholeBankWhenTooSmall(t *testing.T) {
	exam := bankOf(3)
	exam.Config.QuestionsPerAttempt = 10

	selection := app.NewSelector().Select(exam)
	if len(selection.QuestionOrder) != 3 {
		t.Fatalf("expected all 3 questions, got %d", len(selection.QuestionOrder))
	}
}

func TestSelectKeepsLettersWithTheirText(t *testing.T) {
	exam := bankOf(20)
	selection := app.NewSelectorWithSource(rand.NewSource(7)).Select(exam)

	want := exam.Questions[0].Options
	for _, id := range selection.QuestionOrder {
		ordering := selection.OptionOrderings[id]
		if len(ordering) != len(want) {
			t.Fatalf("expected %d options for %s, got %d", len(want), id, len(ordering))
		}
		for _, opt := range ordering {
			if want[opt.Letter] != opt.Text {
				t.Fatalf("letter %s detached from its text: %q", opt.Letter, opt.Text)
			}
		}
	}
}

func TestSelectSkipsOrderingForOpenText(t *testing.T) {
	selection := app.NewSelector().Select(sampleExam())
	if _, ok := selection.OptionOrderings["q2"]; ok {
		t.Fatalf("expected no option ordering for open-text question")
	}
	if len(selection.OptionOrderings["q1"]) != 2 {
		t.Fatalf("expected ordering for multiple-choice question")
	}
}
