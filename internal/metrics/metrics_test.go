package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Started("exam-1")
	m.Started("exam-1")
	m.Refused("exam-1")
	m.Completed("exam-1", "submitted", true, 80)
	m.Completed("exam-1", "time_expired", false, 20)
	m.CertificateFailed()

	if got := testutil.ToFloat64(m.AttemptsStarted.WithLabelValues("exam-1")); got != 2 {
		t.Fatalf("expected 2 starts, got %v", got)
	}
	if got := testutil.ToFloat64(m.AttemptsCompleted.WithLabelValues("exam-1", "time_expired", "failed")); got != 1 {
		t.Fatalf("expected 1 expired failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.CertificateFailures); got != 1 {
		t.Fatalf("expected 1 certificate failure, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "exam_attempt_score"); err != nil || n != 1 {
		t.Fatalf("expected score histogram registered, got n=%d err=%v", n, err)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.Started("exam-1")
	m.Refused("exam-1")
	m.Completed("exam-1", "submitted", true, 100)
	m.CertificateFailed()
}
