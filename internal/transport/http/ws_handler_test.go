package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestWebSocketAttemptFlow(t *testing.T) {
	server := newTestServer(t, sampleExam())
	defer server.Close()

	conn := dial(t, server, "examId=exam-1&participantId=p1")
	defer conn.Close()

	_, payload := readNext(conn, t, "started")
	attempt, ok := payload["attempt"].(map[string]any)
	if !ok || attempt["attemptNumber"] != float64(1) {
		t.Fatalf("expected started payload with attempt number 1, got %v", payload)
	}
	if timed, _ := payload["timed"].(bool); timed {
		t.Fatalf("expected untimed attempt")
	}

	for _, answer := range []map[string]any{
		{"questionId": "q1", "answer": "A"},
		{"questionId": "q2", "answer": "cat"},
	} {
		if err := conn.WriteJSON(map[string]any{"type": "answer", "payload": answer}); err != nil {
			t.Fatalf("write answer: %v", err)
		}
		_, accepted := readNext(conn, t, "answerAccepted")
		if accepted["questionId"] != answer["questionId"] {
			t.Fatalf("expected %v accepted, got %v", answer["questionId"], accepted)
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	_, final := readNext(conn, t, "completed")
	if final["score"] != float64(100) || final["passed"] != true || final["endReason"] != "submitted" {
		t.Fatalf("unexpected completion %v", final)
	}
}

func TestWebSocketRejectsUnknownQuestion(t *testing.T) {
	server := newTestServer(t, sampleExam())
	defer server.Close()

	conn := dial(t, server, "examId=exam-1&participantId=p1")
	defer conn.Close()
	readNext(conn, t, "started")

	if err := conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"questionId": "nope", "answer": "x"}}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	_, payload := readNext(conn, t, "error")
	if payload["code"] != "not_found" {
		t.Fatalf("expected not_found, got %v", payload)
	}
}

func TestWebSocketPushesForcedSubmission(t *testing.T) {
	exam := sampleExam()
	limit := 1
	exam.Config.TimeLimitMinutes = &limit
	offset := time.Minute - 300*time.Millisecond
	server := newTestServer(t, exam, app.WithClock(func() time.Time { return time.Now().Add(offset) }))
	defer server.Close()

	conn := dial(t, server, "examId=exam-1&participantId=p1")
	defer conn.Close()

	_, payload := readNext(conn, t, "started")
	if timed, _ := payload["timed"].(bool); !timed {
		t.Fatalf("expected timed attempt, got %v", payload)
	}

	sawTick := false
	for {
		typ, msg := readNext(conn, t, "")
		if typ == "tick" {
			sawTick = true
			continue
		}
		if typ != "completed" {
			t.Fatalf("unexpected message %s", typ)
		}
		if msg["endReason"] != "time_expired" {
			t.Fatalf("expected time_expired, got %v", msg["endReason"])
		}
		break
	}
	if !sawTick {
		t.Fatalf("expected remaining-time ticks before expiry")
	}
}

func TestWebSocketAttemptLimit(t *testing.T) {
	server := newTestServer(t, sampleExam())
	defer server.Close()

	first := dial(t, server, "examId=exam-1&participantId=p1")
	readNext(first, t, "started")
	if err := first.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	readNext(first, t, "completed")
	first.Close()

	second := dial(t, server, "examId=exam-1&participantId=p1")
	defer second.Close()
	_, payload := readNext(second, t, "error")
	if payload["code"] != "attempt_limit_exceeded" {
		t.Fatalf("expected attempt_limit_exceeded, got %v", payload)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server := newTestServer(t, sampleExam())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws/attempts?examId=exam-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func newTestServer(t *testing.T, exam domain.Exam, opts ...app.Option) *httptest.Server {
	t.Helper()
	bank := memory.NewQuestionBank(memory.NewStaticExamLoader(map[string]domain.Exam{exam.Config.ID: exam}), time.Minute)
	service := app.NewAttemptService(bank, memory.NewAttemptStore(), memory.NewSessionStore(), nil, opts...)
	wsHandler := NewWSHandler(service, WithLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.ErrorLevel))), WithTickInterval(50*time.Millisecond))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/attempts", wsHandler.ServeWS)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/attempts?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleExam() domain.Exam {
	return domain.Exam{
		Config: domain.ExamConfig{ID: "exam-1", PassingScore: 50, MaxAttempts: 1},
		Questions: []domain.Question{
			{ID: "q1", Type: domain.MultipleChoice, Text: "What is 2 + 2?", Options: map[string]string{"A": "4", "B": "5"}, CorrectAnswer: "A", Points: 1, Position: 1},
			{ID: "q2", Type: domain.OpenText, Text: "Which animal meows?", CorrectAnswer: "cat", Points: 1, Position: 2},
		},
	}
}
