package domain

import (
	"errors"
	"testing"
)

func validExam() Exam {
	return Exam{
		Config: ExamConfig{ID: "exam-1", PassingScore: 60, MaxAttempts: 2},
		Questions: []Question{
			{ID: "q1", Type: MultipleChoice, Options: map[string]string{"A": "yes", "B": "no"}, CorrectAnswer: "B"},
			{ID: "q2", Type: OpenText, CorrectAnswer: "photosynthesis"},
		},
	}
}

func TestValidateAcceptsWellFormedExam(t *testing.T) {
	if err := validExam().Validate(); err != nil {
		t.Fatalf("expected valid exam, got %v", err)
	}
}

func TestValidateRejectsBadContent(t *testing.T) {
	zero := 0
	cases := map[string]func(*Exam){
		"passing score above 100": func(e *Exam) { e.Config.PassingScore = 101 },
		"no attempts allowed":     func(e *Exam) { e.Config.MaxAttempts = 0 },
		"zero time limit":         func(e *Exam) { e.Config.TimeLimitMinutes = &zero },
		"unknown question type":   func(e *Exam) { e.Questions[1].Type = "essay" },
		"duplicate question":      func(e *Exam) { e.Questions[1].ID = "q1" },
		"key is not an option":    func(e *Exam) { e.Questions[0].CorrectAnswer = "C" },
		"choice without options":  func(e *Exam) { e.Questions[0].Options = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			exam := validExam()
			mutate(&exam)
			if err := exam.Validate(); !errors.Is(err, ErrInvalidExam) {
				t.Fatalf("expected ErrInvalidExam, got %v", err)
			}
		})
	}
}

func TestAttemptErrorUnwraps(t *testing.T) {
	err := error(&AttemptError{Op: "submit attempt", ExamID: "exam-1", AttemptID: "a1", Err: ErrInvalidState})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState through AttemptError")
	}
	if got := err.Error(); got != "submit attempt [exam=exam-1 attempt=a1]: attempt is not in the expected state" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAttemptCloneIsDeep(t *testing.T) {
	score := 80
	a := Attempt{
		Answers:         map[string]string{"q1": "A"},
		QuestionOrder:   []string{"q1"},
		OptionOrderings: map[string][]Option{"q1": {{Letter: "A", Text: "yes"}}},
		Score:           &score,
	}
	c := a.Clone()
	c.Answers["q1"] = "B"
	c.QuestionOrder[0] = "q9"
	c.OptionOrderings["q1"][0].Text = "changed"
	*c.Score = 10

	if a.Answers["q1"] != "A" || a.QuestionOrder[0] != "q1" || a.OptionOrderings["q1"][0].Text != "yes" || *a.Score != 80 {
		t.Fatalf("clone shares state with the original: %+v", a)
	}
}
