package app

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
)

// Selection is the frozen presentation snapshot of a new attempt.
type Selection struct {
	QuestionOrder   []string
	OptionOrderings map[string][]domain.Option
}

// Selector draws the question subset and option display order for each attempt.
type Selector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSelector() *Selector {
	return NewSelectorWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewSelectorWithSource is used by tests that need a fixed sequence.
func NewSelectorWithSource(src rand.Source) *Selector {
	return &Selector{rnd: rand.New(src)}
}

// Select shuffles the whole bank, keeps QuestionsPerAttempt of it (all when 0 or
// larger than the bank) and shuffles each multiple-choice question's options.
// Letters stay attached to their text.
func (s *Selector) Select(exam domain.Exam) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions := append([]domain.Question(nil), exam.Questions...)
	s.rnd.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	limit := exam.Config.QuestionsPerAttempt
	if limit <= 0 || limit > len(questions) {
		limit = len(questions)
	}
	questions = questions[:limit]

	selection := Selection{
		QuestionOrder:   make([]string, 0, limit),
		OptionOrderings: make(map[string][]domain.Option),
	}
	for _, q := range questions {
		selection.QuestionOrder = append(selection.QuestionOrder, q.ID)
		if q.Type != domain.MultipleChoice {
			continue
		}
		selection.OptionOrderings[q.ID] = s.shuffleOptionsLocked(q.Options)
	}
	return selection
}

func (s *Selector) shuffleOptionsLocked(options map[string]string) []domain.Option {
	letters := make([]string, 0, len(options))
	for letter := range options {
		letters = append(letters, letter)
	}
	// map iteration order is not a source of randomness we control
	sort.Strings(letters)
	s.rnd.Shuffle(len(letters), func(i, j int) {
		letters[i], letters[j] = letters[j], letters[i]
	})

	out := make([]domain.Option, 0, len(letters))
	for _, letter := range letters {
		out = append(out, domain.Option{Letter: letter, Text: options[letter]})
	}
	return out
}
