package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the attempt lifecycle collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	AttemptsStarted     *prometheus.CounterVec
	AttemptsRefused     *prometheus.CounterVec
	AttemptsCompleted   *prometheus.CounterVec
	CertificateFailures prometheus.Counter
	Scores              prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_attempts_started_total",
				Help: "Total number of exam attempts started",
			},
			[]string{"exam_id"},
		),
		AttemptsRefused: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_attempts_refused_total",
				Help: "Attempt starts refused because the attempt limit was reached",
			},
			[]string{"exam_id"},
		),
		AttemptsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_attempts_completed_total",
				Help: "Completed exam attempts by end reason and outcome",
			},
			[]string{"exam_id", "reason", "outcome"},
		),
		CertificateFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exam_certificate_failures_total",
				Help: "Certificate issuance calls that failed",
			},
		),
		Scores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exam_attempt_score",
				Help:    "Distribution of completed attempt scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.AttemptsStarted, m.AttemptsRefused, m.AttemptsCompleted, m.CertificateFailures, m.Scores)
	}
	return m
}

func (m *Metrics) Started(examID string) {
	if m == nil {
		return
	}
	m.AttemptsStarted.WithLabelValues(examID).Inc()
}

func (m *Metrics) Refused(examID string) {
	if m == nil {
		return
	}
	m.AttemptsRefused.WithLabelValues(examID).Inc()
}

func (m *Metrics) Completed(examID, reason string, passed bool, score int) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.AttemptsCompleted.WithLabelValues(examID, reason, outcome).Inc()
	m.Scores.Observe(float64(score))
}

func (m *Metrics) CertificateFailed() {
	if m == nil {
		return
	}
	m.CertificateFailures.Inc()
}
