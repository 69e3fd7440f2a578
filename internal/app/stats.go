package app

import (
	"math"
	"sort"

	"exam-attempt-service/internal/domain"
)

// AggregateAttempts summarises attempts on one exam. In-progress attempts are
// counted but kept out of every score and pass figure.
func AggregateAttempts(examID string, attempts []domain.Attempt) domain.ExamStats {
	stats := domain.ExamStats{ExamID: examID}

	type tally struct {
		summary       domain.ParticipantSummary
		lastCompleted int64
	}
	byParticipant := make(map[string]*tally)
	scoreSum := 0

	for _, attempt := range attempts {
		if attempt.ExamID != examID {
			continue
		}
		t, ok := byParticipant[attempt.ParticipantID]
		if !ok {
			t = &tally{summary: domain.ParticipantSummary{ParticipantID: attempt.ParticipantID}}
			byParticipant[attempt.ParticipantID] = t
		}

		if attempt.CompletedAt == nil {
			stats.InProgressAttempts++
			t.summary.InProgress++
			continue
		}

		score := 0
		if attempt.Score != nil {
			score = *attempt.Score
		}
		stats.CompletedAttempts++
		scoreSum += score
		if score > stats.BestScore {
			stats.BestScore = score
		}
		if attempt.Passed {
			stats.PassedAttempts++
			t.summary.Passed = true
		}

		t.summary.CompletedAttempts++
		if score > t.summary.BestScore {
			t.summary.BestScore = score
		}
		if completed := attempt.CompletedAt.UnixNano(); t.summary.CompletedAttempts == 1 || completed >= t.lastCompleted {
			t.lastCompleted = completed
			t.summary.LastScore = score
		}
	}

	stats.Participants = len(byParticipant)
	graded := 0
	for _, t := range byParticipant {
		stats.ByParticipant = append(stats.ByParticipant, t.summary)
		if t.summary.CompletedAttempts > 0 {
			graded++
		}
		if t.summary.Passed {
			stats.PassedParticipants++
		}
	}
	if graded > 0 {
		stats.PassRate = round2(100 * float64(stats.PassedParticipants) / float64(graded))
	}
	if stats.CompletedAttempts > 0 {
		stats.AverageScore = round2(float64(scoreSum) / float64(stats.CompletedAttempts))
	}

	sort.Slice(stats.ByParticipant, func(i, j int) bool {
		a, b := stats.ByParticipant[i], stats.ByParticipant[j]
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		return a.ParticipantID < b.ParticipantID
	})
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
