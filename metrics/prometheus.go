package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the voice pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ChunksPerRequest      prometheus.Histogram
	ChunkSize             prometheus.Histogram
	TranscriptionAttempts prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	ModerationChecks  prometheus.Counter
	ModerationFlagged *prometheus.CounterVec

	GuardianAlerts *prometheus.CounterVec

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksPerRequest: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_chunks_per_request",
			Help:    "Number of audio chunks a recording was split into",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_chunk_size_bytes",
			Help:    "Size of normalized audio chunks submitted for transcription",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 12), // 16KB to ~32MB
		}),
		TranscriptionAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_attempts_total",
			Help: "Total transcription service calls including retries",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Chunks that failed transcription after all attempts",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Wall time spent transcribing one chunk",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		ModerationChecks: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_moderation_checks_total",
			Help: "Moderation service calls",
		}),
		ModerationFlagged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_moderation_flagged_total",
			Help: "Flagged moderation verdicts by category",
		}, []string{"category"}),
		GuardianAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_guardian_alerts_total",
			Help: "Guardian alert deliveries by sink and outcome",
		}, []string{"sink", "outcome"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_requests_total",
			Help: "Pipeline operations by outcome",
		}, []string{"operation", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_request_duration_seconds",
			Help:    "Pipeline operation latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"}),
	}
}

// ObserveChunks records how a recording was split.
func (m *Metrics) ObserveChunks(count int) {
	if m == nil {
		return
	}
	m.ChunksPerRequest.Observe(float64(count))
}

// ObserveChunk records one chunk's transcription.
func (m *Metrics) ObserveChunk(size, attempts int, failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChunkSize.Observe(float64(size))
	m.TranscriptionAttempts.Add(float64(attempts))
	m.TranscriptionDuration.Observe(elapsed.Seconds())
	if failed {
		m.TranscriptionFailures.Inc()
	}
}

// ObserveModeration records a moderation call and its flagged categories.
func (m *Metrics) ObserveModeration(categories []string) {
	if m == nil {
		return
	}
	m.ModerationChecks.Inc()
	for _, c := range categories {
		m.ModerationFlagged.WithLabelValues(c).Inc()
	}
}

// ObserveAlert records a guardian alert delivery attempt.
func (m *Metrics) ObserveAlert(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.GuardianAlerts.WithLabelValues(sink, outcome).Inc()
}

// ObserveRequest records a facade operation.
func (m *Metrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
