package app_test

import (
	"testing"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
)

func completedAttempt(participantID string, number, score int, passed bool, at time.Time) domain.Attempt {
	return domain.Attempt{
		ID:            participantID + "-" + string(rune('0'+number)),
		ExamID:        "exam-1",
		ParticipantID: participantID,
		AttemptNumber: number,
		CompletedAt:   &at,
		Score:         &score,
		Passed:        passed,
	}
}

func TestAggregateAttempts(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	attempts := []domain.Attempt{
		completedAttempt("ann", 1, 40, false, base),
		completedAttempt("ann", 2, 90, true, base.Add(time.Hour)),
		completedAttempt("bob", 1, 70, true, base),
		completedAttempt("cid", 1, 35, false, base),
		{ID: "dan-1", ExamID: "exam-1", ParticipantID: "dan", AttemptNumber: 1},
		completedAttempt("eve", 1, 100, true, base),
	}
	attempts[5].ExamID = "other-exam"

	stats := app.AggregateAttempts("exam-1", attempts)
	if stats.Participants != 4 {
		t.Fatalf("expected 4 participants, got %d", stats.Participants)
	}
	if stats.CompletedAttempts != 4 || stats.InProgressAttempts != 1 {
		t.Fatalf("unexpected attempt counts %+v", stats)
	}
	if stats.PassedAttempts != 2 || stats.PassedParticipants != 2 {
		t.Fatalf("unexpected pass counts %+v", stats)
	}
	// dan has no completed attempt and is left out of the pass rate
	if stats.PassRate != 66.67 {
		t.Fatalf("expected pass rate 66.67, got %v", stats.PassRate)
	}
	if stats.AverageScore != 58.75 {
		t.Fatalf("expected average 58.75, got %v", stats.AverageScore)
	}
	if stats.BestScore != 90 {
		t.Fatalf("expected best 90, got %d", stats.BestScore)
	}

	first := stats.ByParticipant[0]
	if first.ParticipantID != "ann" || first.BestScore != 90 || first.LastScore != 90 || first.CompletedAttempts != 2 {
		t.Fatalf("unexpected leader %+v", first)
	}
	last := stats.ByParticipant[len(stats.ByParticipant)-1]
	if last.ParticipantID != "dan" || last.InProgress != 1 {
		t.Fatalf("expected in-progress-only participant last, got %+v", last)
	}
}

func TestAggregateAttemptsEmpty(t *testing.T) {
	stats := app.AggregateAttempts("exam-1", nil)
	if stats.Participants != 0 || stats.PassRate != 0 || stats.AverageScore != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}
