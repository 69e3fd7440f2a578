package domain

import "time"

// QuestionType distinguishes how a captured answer is compared to the key.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	OpenText       QuestionType = "open_text"
)

// AttemptStatus is derived from the attempt record, it is not stored.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
)

// EndReason records which path completed an attempt.
type EndReason string

const (
	EndReasonSubmitted   EndReason = "submitted"
	EndReasonTimeExpired EndReason = "time_expired"
)

// ExamConfig is owned by the exam author and never changes while an attempt runs.
type ExamConfig struct {
	ID                  string `json:"id" validate:"required"`
	Title               string `json:"title"`
	PassingScore        int    `json:"passingScore" validate:"min=0,max=100"`
	TimeLimitMinutes    *int   `json:"timeLimitMinutes,omitempty" validate:"omitempty,min=1"`
	MaxAttempts         int    `json:"maxAttempts" validate:"min=1"`
	QuestionsPerAttempt int    `json:"questionsPerAttempt" validate:"min=0"` // 0 means all
}

// TimeLimit returns the configured limit and whether the exam is timed.
func (c ExamConfig) TimeLimit() (time.Duration, bool) {
	if c.TimeLimitMinutes == nil {
		return 0, false
	}
	return time.Duration(*c.TimeLimitMinutes) * time.Minute, true
}

// Question is a bank record. Options maps a stable letter to its text.
type Question struct {
	ID            string            `json:"id" validate:"required"`
	ExamID        string            `json:"examId"`
	Text          string            `json:"text"`
	Type          QuestionType      `json:"type" validate:"oneof=multiple_choice open_text"`
	Options       map[string]string `json:"options,omitempty"`
	CorrectAnswer string            `json:"correctAnswer"`
	Points        int               `json:"points" validate:"min=0"` // defaults to 1 if zero
	Position      int               `json:"position"`
}

// Weight returns the point weight, defaulting to 1.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Exam is the authoritative bank content for one exam.
type Exam struct {
	Config    ExamConfig `json:"config"`
	Questions []Question `json:"questions"`
}

// QuestionByID indexes the bank by question id.
func (e Exam) QuestionByID() map[string]Question {
	index := make(map[string]Question, len(e.Questions))
	for _, q := range e.Questions {
		index[q.ID] = q
	}
	return index
}

// Option is one entry of a frozen option ordering, in display order.
type Option struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Attempt is one participant's pass through an exam.
type Attempt struct {
	ID              string              `json:"id"`
	ExamID          string              `json:"examId"`
	ParticipantID   string              `json:"participantId"`
	AttemptNumber   int                 `json:"attemptNumber"`
	StartedAt       time.Time           `json:"startedAt"`
	ExpiresAt       *time.Time          `json:"expiresAt,omitempty"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
	Answers         map[string]string   `json:"answers"`
	QuestionOrder   []string            `json:"questionOrder"`
	OptionOrderings map[string][]Option `json:"optionOrderings"`
	Score           *int                `json:"score,omitempty"`
	Passed          bool                `json:"passed"`
	EndReason       EndReason           `json:"endReason,omitempty"`
}

// Status reports whether the attempt has been completed.
func (a Attempt) Status() AttemptStatus {
	if a.CompletedAt != nil {
		return StatusCompleted
	}
	return StatusInProgress
}

// Clone returns a deep copy so callers cannot mutate shared maps.
func (a Attempt) Clone() Attempt {
	out := a
	out.Answers = make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	out.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	out.OptionOrderings = make(map[string][]Option, len(a.OptionOrderings))
	for k, v := range a.OptionOrderings {
		out.OptionOrderings[k] = append([]Option(nil), v...)
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		out.ExpiresAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	if a.Score != nil {
		s := *a.Score
		out.Score = &s
	}
	return out
}

// Completion is the single write that moves an attempt to completed.
type Completion struct {
	CompletedAt time.Time
	Answers     map[string]string
	Score       int
	Passed      bool
	EndReason   EndReason
}

// Apply copies the completion onto the attempt.
func (a *Attempt) Apply(c Completion) {
	completedAt := c.CompletedAt
	score := c.Score
	a.CompletedAt = &completedAt
	a.Answers = c.Answers
	a.Score = &score
	a.Passed = c.Passed
	a.EndReason = c.EndReason
}

// QuestionResult is the per-question outcome of scoring.
type QuestionResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Earned     int    `json:"earned"`
	Weight     int    `json:"weight"`
}

// ScoreResult is the aggregate outcome of scoring an attempt.
type ScoreResult struct {
	Questions    []QuestionResult `json:"questions"`
	EarnedPoints int              `json:"earnedPoints"`
	TotalPoints  int              `json:"totalPoints"`
	Score        int              `json:"score"`
	Passed       bool             `json:"passed"`
}

// ReviewItem is one question as the participant saw and answered it.
type ReviewItem struct {
	QuestionID    string       `json:"questionId"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []Option     `json:"options,omitempty"`
	Answer        string       `json:"answer"`
	CorrectAnswer string       `json:"correctAnswer"`
	Correct       bool         `json:"correct"`
	Weight        int          `json:"weight"`
}

// AttemptReview replays a completed attempt.
type AttemptReview struct {
	Attempt Attempt      `json:"attempt"`
	Items   []ReviewItem `json:"items"`
}

// RescoreReport compares a recomputed score with the stored one.
type RescoreReport struct {
	AttemptID    string      `json:"attemptId"`
	StoredScore  int         `json:"storedScore"`
	StoredPassed bool        `json:"storedPassed"`
	Result       ScoreResult `json:"result"`
	Consistent   bool        `json:"consistent"`
}

// ParticipantSummary aggregates one participant's attempts on an exam.
type ParticipantSummary struct {
	ParticipantID     string `json:"participantId"`
	CompletedAttempts int    `json:"completedAttempts"`
	InProgress        int    `json:"inProgress"`
	BestScore         int    `json:"bestScore"`
	LastScore         int    `json:"lastScore"`
	Passed            bool   `json:"passed"`
}

// ExamStats aggregates attempts for a group of participants on one exam.
type ExamStats struct {
	ExamID             string               `json:"examId"`
	Participants       int                  `json:"participants"`
	CompletedAttempts  int                  `json:"completedAttempts"`
	InProgressAttempts int                  `json:"inProgressAttempts"`
	PassedAttempts     int                  `json:"passedAttempts"`
	PassedParticipants int                  `json:"passedParticipants"`
	PassRate           float64              `json:"passRate"`
	AverageScore       float64              `json:"averageScore"`
	BestScore          int                  `json:"bestScore"`
	ByParticipant      []ParticipantSummary `json:"byParticipant"`
}

// CertificateRequest identifies the passing attempt a certificate is issued for.
type CertificateRequest struct {
	ParticipantID string    `json:"participantId"`
	ExamID        string    `json:"examId"`
	AttemptID     string    `json:"attemptId"`
	Score         int       `json:"score"`
	CompletedAt   time.Time `json:"completedAt"`
}
