package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"exam-attempt-service/internal/domain"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultCertificateTopic = "exam.certificates.requested"

// CertificateRequested is the payload published for every passed attempt.
type CertificateRequested struct {
	ParticipantID string `json:"participantId"`
	ExamID        string `json:"examId"`
	AttemptID     string `json:"attemptId"`
	Score         int    `json:"score"`
	CompletedAt   string `json:"completedAt"`
}

// CertificatePublisher hands certificate requests to the certificate service
// over a watermill publisher. It implements app.CertificateIssuer.
type CertificatePublisher struct {
	publisher message.Publisher
	topic     string
}

func NewCertificatePublisher(publisher message.Publisher, topic string) *CertificatePublisher {
	if topic == "" {
		topic = DefaultCertificateTopic
	}
	return &CertificatePublisher{publisher: publisher, topic: topic}
}

func (p *CertificatePublisher) IssueCertificate(ctx context.Context, req domain.CertificateRequest) error {
	payload, err := json.Marshal(CertificateRequested{
		ParticipantID: req.ParticipantID,
		ExamID:        req.ExamID,
		AttemptID:     req.AttemptID,
		Score:         req.Score,
		CompletedAt:   req.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal certificate request: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	// consumers deduplicate on the attempt id
	msg.Metadata.Set("idempotency_key", req.AttemptID)
	msg.Metadata.Set("exam_id", req.ExamID)
	msg.Metadata.Set("score", strconv.Itoa(req.Score))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish certificate request for attempt %s: %w", req.AttemptID, err)
	}
	return nil
}

// NewKafkaPublisher connects a watermill publisher to the given brokers.
func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
}

// NewInProcessPubSub keeps certificate requests inside the process, used when
// no brokers are configured.
func NewInProcessPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
}
