package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveChunks(3)
	m.ObserveChunk(10, 2, true, time.Second)
	m.ObserveModeration([]string{"violence"})
	m.ObserveAlert("sms", nil)
	m.ObserveRequest("reading", "ok", time.Second)
}

func TestObserveCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveChunk(1024, 3, true, time.Second)
	m.ObserveChunk(1024, 1, false, time.Second)
	m.ObserveModeration([]string{"violence", "harassment"})
	m.ObserveModeration(nil)
	m.ObserveAlert("rabbitmq", nil)
	m.ObserveAlert("rabbitmq", errors.New("down"))

	if got := testutil.ToFloat64(m.TranscriptionAttempts); got != 4 {
		t.Errorf("expected 4 attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModerationChecks); got != 2 {
		t.Errorf("expected 2 moderation checks, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModerationFlagged.WithLabelValues("violence")); got != 1 {
		t.Errorf("expected 1 violence flag, got %v", got)
	}
	if got := testutil.ToFloat64(m.GuardianAlerts.WithLabelValues("rabbitmq", "failed")); got != 1 {
		t.Errorf("expected 1 failed alert, got %v", got)
	}
}
