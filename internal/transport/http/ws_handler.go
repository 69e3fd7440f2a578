package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	service      *app.AttemptService
	log          *zap.Logger
	tickInterval time.Duration
	upgrader     websocket.Upgrader
}

type WSOption func(*WSHandler)

func WithLogger(log *zap.Logger) WSOption {
	return func(h *WSHandler) { h.log = log }
}

// WithTickInterval sets how often remaining time is pushed for timed attempts.
func WithTickInterval(d time.Duration) WSOption {
	return func(h *WSHandler) { h.tickInterval = d }
}

func NewWSHandler(service *app.AttemptService, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		service:      service,
		log:          zap.NewNop(),
		tickInterval: time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type answerAccepted struct {
	QuestionID string `json:"questionId"`
}

type attemptView struct {
	Attempt          domain.Attempt `json:"attempt"`
	Timed            bool           `json:"timed"`
	RemainingSeconds int64          `json:"remainingSeconds,omitempty"`
}

type tickPayload struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS runs one attempt session over a websocket.
// New attempt: ?examId=...&participantId=...   Reconnect: ?attemptId=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	examID := query.Get("examId")
	participantID := query.Get("participantId")
	attemptID := query.Get("attemptId")
	if attemptID == "" && (examID == "" || participantID == "") {
		http.Error(w, "missing attemptId, or examId and participantId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var attempt domain.Attempt
	if attemptID != "" {
		attempt, err = h.service.Resume(ctx, attemptID)
	} else {
		attempt, err = h.service.Start(ctx, examID, participantID)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	if attempt.CompletedAt != nil {
		// resumed after the deadline, already force-submitted
		_ = conn.WriteJSON(outboundMessage[domain.Attempt]{Type: "completed", Payload: attempt})
		return
	}

	completions, cancel, err := h.service.Subscribe(ctx, attempt.ID)
	if err != nil {
		h.sendFinal(ctx, conn, attempt.ID)
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("attempt_id", attempt.ID), zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		ticker := time.NewTicker(h.tickInterval)
		defer ticker.Stop()
		ticks := ticker.C
		if attempt.ExpiresAt == nil {
			ticks = nil
		}
		for {
			var msg outboundMessage[any]
			select {
			case final, ok := <-completions:
				if !ok {
					return
				}
				msg = outboundMessage[any]{Type: "completed", Payload: final}
				ticks = nil
			case <-ticks:
				remaining, timed, err := h.service.Remaining(ctx, attempt.ID)
				if err != nil || !timed {
					continue
				}
				msg = outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingSeconds: seconds(remaining)}}
			case <-closeSignals:
				return
			}
			select {
			case send <- msg:
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "started", Payload: h.view(ctx, attempt)}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}}
				continue
			}
			if err := h.service.Capture(ctx, attempt.ID, payload.QuestionID, payload.Answer); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}
				continue
			}
			send <- outboundMessage[any]{Type: "answerAccepted", Payload: answerAccepted{QuestionID: payload.QuestionID}}
		case "submit":
			// the completion reaches the client through the subscription
			if _, err := h.service.Submit(ctx, attempt.ID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) view(ctx context.Context, attempt domain.Attempt) attemptView {
	v := attemptView{Attempt: attempt}
	if remaining, timed, err := h.service.Remaining(ctx, attempt.ID); err == nil && timed {
		v.Timed = true
		v.RemainingSeconds = seconds(remaining)
	}
	return v
}

func (h *WSHandler) sendFinal(ctx context.Context, conn *websocket.Conn, attemptID string) {
	final, err := h.service.Get(ctx, attemptID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	_ = conn.WriteJSON(outboundMessage[domain.Attempt]{Type: "completed", Payload: final})
}

// seconds rounds up so a client never shows 0 while time remains.
func seconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

func toErrorPayload(err error) errorPayload {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		code = "invalid_state"
	case errors.Is(err, domain.ErrAttemptLimitExceeded):
		code = "attempt_limit_exceeded"
	case errors.Is(err, domain.ErrNotFound):
		code = "not_found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = "store_unavailable"
	case errors.Is(err, domain.ErrInvalidExam):
		code = "invalid_exam"
	}
	return errorPayload{Code: code, Message: err.Error()}
}
