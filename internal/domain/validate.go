package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks bank content before it is used to build attempts.
func (e Exam) Validate() error {
	if err := validate.Struct(e.Config); err != nil {
		return fmt.Errorf("%w: exam %s: %v", ErrInvalidExam, e.Config.ID, err)
	}
	seen := make(map[string]struct{}, len(e.Questions))
	for _, q := range e.Questions {
		if err := validate.Struct(q); err != nil {
			return fmt.Errorf("%w: question %s: %v", ErrInvalidExam, q.ID, err)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", ErrInvalidExam, q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Type == MultipleChoice {
			if len(q.Options) == 0 {
				return fmt.Errorf("%w: question %s has no options", ErrInvalidExam, q.ID)
			}
			if _, ok := q.Options[q.CorrectAnswer]; !ok {
				return fmt.Errorf("%w: question %s correct answer %q is not an option", ErrInvalidExam, q.ID, q.CorrectAnswer)
			}
		}
	}
	return nil
}
