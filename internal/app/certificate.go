package app

import (
	"context"
	"time"

	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/metrics"
	"go.uber.org/zap"
)

// CertificateTrigger calls the issuer for passing attempts. Failures are logged
// and counted, never returned: the completion is already committed.
type CertificateTrigger struct {
	issuer  CertificateIssuer
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewCertificateTrigger(issuer CertificateIssuer, log *zap.Logger, m *metrics.Metrics, timeout time.Duration) *CertificateTrigger {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CertificateTrigger{issuer: issuer, log: log, metrics: m, timeout: timeout}
}

// Fire must only be called by the call that performed the completion write.
func (t *CertificateTrigger) Fire(attempt domain.Attempt) {
	if t == nil || t.issuer == nil || !attempt.Passed || attempt.CompletedAt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	req := domain.CertificateRequest{
		ParticipantID: attempt.ParticipantID,
		ExamID:        attempt.ExamID,
		AttemptID:     attempt.ID,
		CompletedAt:   *attempt.CompletedAt,
	}
	if attempt.Score != nil {
		req.Score = *attempt.Score
	}

	if err := t.issuer.IssueCertificate(ctx, req); err != nil {
		t.metrics.CertificateFailed()
		t.log.Error("certificate issuance failed",
			zap.String("exam_id", attempt.ExamID),
			zap.String("participant_id", attempt.ParticipantID),
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
		return
	}
	t.log.Info("certificate requested",
		zap.String("exam_id", attempt.ExamID),
		zap.String("participant_id", attempt.ParticipantID),
		zap.String("attempt_id", attempt.ID))
}
