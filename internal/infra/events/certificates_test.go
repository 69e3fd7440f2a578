package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/ThreeDotsLabs/watermill"
)

func TestCertificatePublisherPublishesRequest(t *testing.T) {
	pubSub := NewInProcessPubSub(watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, DefaultCertificateTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publisher := NewCertificatePublisher(pubSub, "")
	completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = publisher.IssueCertificate(ctx, domain.CertificateRequest{
		ParticipantID: "p1",
		ExamID:        "exam-1",
		AttemptID:     "attempt-1",
		Score:         85,
		CompletedAt:   completedAt,
	})
	if err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
		if got := msg.Metadata.Get("idempotency_key"); got != "attempt-1" {
			t.Fatalf("expected idempotency key attempt-1, got %q", got)
		}
		var payload CertificateRequested
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.ParticipantID != "p1" || payload.ExamID != "exam-1" || payload.Score != 85 {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if payload.CompletedAt != "2026-03-01T12:00:00.000Z" {
			t.Fatalf("unexpected completion time %q", payload.CompletedAt)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for certificate request")
	}
}

func TestCertificatePublisherFailsAfterClose(t *testing.T) {
	pubSub := NewInProcessPubSub(watermill.NopLogger{})
	_ = pubSub.Close()

	publisher := NewCertificatePublisher(pubSub, "certs")
	err := publisher.IssueCertificate(context.Background(), domain.CertificateRequest{AttemptID: "attempt-1"})
	if err == nil {
		t.Fatalf("expected publish on closed pubsub to fail")
	}
}
