package voice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/mrsingh-rishi/voice-analysis/audio"
	"github.com/mrsingh-rishi/voice-analysis/llm"
	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/mocks"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
	"github.com/mrsingh-rishi/voice-analysis/scoring"
	"github.com/mrsingh-rishi/voice-analysis/stt"
)

type fixture struct {
	svc         *Service
	transcriber *mocks.MockTranscriber
	gate        *mocks.MockContentGate
	llm         *mocks.MockCompleter
	profiles    *mocks.MockProfileSource
	recorder    *mocks.MockRecorder
	alerts      *mocks.MockAlertNotifier
	synth       *mocks.MockSynthesizer
	metrics     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		transcriber: mocks.NewMockTranscriber(ctrl),
		gate:        mocks.NewMockContentGate(ctrl),
		llm:         mocks.NewMockCompleter(ctrl),
		profiles:    mocks.NewMockProfileSource(ctrl),
		recorder:    mocks.NewMockRecorder(ctrl),
		alerts:      mocks.NewMockAlertNotifier(ctrl),
		synth:       mocks.NewMockSynthesizer(ctrl),
		metrics:     metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = f.build(t, f.transcriber)
	return f
}

func (f *fixture) build(t *testing.T, tr Transcriber) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LLMRetry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	svc, err := NewService(Deps{
		Normalizer:  audio.NewNormalizer(),
		Splitter:    audio.NewSplitter(audio.DefaultSplitterConfig()),
		Transcriber: tr,
		Gate:        f.gate,
		Engine:      scoring.NewEngine(scoring.PolicyV1),
		LLM:         f.llm,
		Profiles:    f.profiles,
		Recorder:    f.recorder,
		Alerts:      f.alerts,
		Synthesizer: f.synth,
		Metrics:     f.metrics,
		Logger:      zaptest.NewLogger(t).Sugar(),
	}, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

var (
	student  = model.Principal{UserID: "student-1", Role: model.RoleDependent, ParentID: "parent-1"}
	guardian = model.Principal{UserID: "parent-1", Role: model.RoleGuardian}
	safe     = model.ModerationVerdict{IsSafe: true}
)

// wavBuffer is a silent 16 kHz mono WAV upload of the given length.
func wavBuffer(t *testing.T, seconds int) model.AudioBuffer {
	t.Helper()
	data, err := audio.EncodeWAV(make([]byte, seconds*model.SampleRate*model.BytesPerSample), model.SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return model.AudioBuffer{Data: data, MimeType: "audio/wav", Filename: "reading.wav"}
}

// evenTranscript is n words spread evenly over seconds.
func evenTranscript(n int, seconds, confidence float64) model.TranscriptionResult {
	step := seconds / float64(n)
	words := make([]model.WordTiming, n)
	texts := make([]string, n)
	for i := range words {
		texts[i] = fmt.Sprintf("word%d", i)
		words[i] = model.WordTiming{Word: texts[i], Start: float64(i) * step, End: float64(i+1) * step, Confidence: confidence}
	}
	return model.TranscriptionResult{Text: strings.Join(texts, " "), Words: words}
}

func lp(v float64) *float64 { return &v }

func TestAnalyzeReadingScenarioA(t *testing.T) {
	f := newFixture(t)
	transcript := evenTranscript(20, 10, 0.9)
	feedbackJSON := `{"level":"intermediate","suggestions":["pause at commas"],"improvement_areas":["expression"]}`

	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), true).
		DoAndReturn(func(ctx context.Context, chunks stt.ChunkSource, verbose bool) (model.TranscriptionResult, error) {
			n := 0
			for _, ok := chunks.Next(); ok; _, ok = chunks.Next() {
				n++
			}
			if n != 1 {
				t.Errorf("expected a single chunk for a 10s upload, got %d", n)
			}
			return transcript, nil
		})
	f.gate.EXPECT().CheckAll(gomock.Any(), transcript.Text).Return(safe, nil)
	f.profiles.EXPECT().LearningProfile(gomock.Any(), "student-1").Return(model.LearningProfile{UserID: "student-1", Style: "visual"}, nil)
	f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req llm.Request) (llm.Completion, error) {
			if !req.JSON {
				t.Error("feedback must request JSON output")
			}
			return llm.Completion{Content: feedbackJSON}, nil
		})
	f.gate.EXPECT().CheckAll(gomock.Any(), gomock.Any()).Return(safe, nil)
	f.recorder.EXPECT().SaveRecord(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec model.Record) error {
			if rec.Type != model.RecordReading || rec.UserID != "student-1" || rec.Metrics == nil {
				t.Errorf("unexpected record %+v", rec)
			}
			return nil
		})

	got, err := f.svc.AnalyzeReading(context.Background(), student, wavBuffer(t, 10))
	if err != nil {
		t.Fatalf("AnalyzeReading failed: %v", err)
	}

	m := got.Metrics
	if math.Abs(m.WPM-120) > 1e-9 || math.Abs(m.Accuracy-0.9) > 1e-9 {
		t.Errorf("wpm/accuracy = %v/%v, want 120/0.9", m.WPM, m.Accuracy)
	}
	if math.Abs(m.Fluency-85) > 1e-9 || math.Abs(m.Comprehension-87) > 1e-9 {
		t.Errorf("fluency/comprehension = %v/%v, want 85/87", m.Fluency, m.Comprehension)
	}
	if got.WordCount != 20 || got.Duration != 10 {
		t.Errorf("word count %d, duration %v", got.WordCount, got.Duration)
	}
	if got.Feedback.Level != "intermediate" || len(got.Feedback.Suggestions) != 1 {
		t.Errorf("unexpected feedback %+v", got.Feedback)
	}
}

// failingChunk fails every call for one chunk index with a fatal error.
type failingChunk struct {
	index int
	mu    sync.Mutex
	seen  []int
}

func (f *failingChunk) Transcribe(ctx context.Context, chunk model.AudioChunk, opts stt.Options) (model.TranscriptionResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, chunk.Index)
	f.mu.Unlock()
	if chunk.Index == f.index {
		return model.TranscriptionResult{}, errors.New("invalid audio payload")
	}
	return model.TranscriptionResult{Text: "ok", Words: []model.WordTiming{{Word: "ok", End: 1, Confidence: 1}}}, nil
}

func TestAnalyzeReadingScenarioB(t *testing.T) {
	f := newFixture(t)
	orch := stt.NewOrchestrator(&failingChunk{index: 1}, stt.OrchestratorConfig{
		MaxConcurrent: 1,
		Retry:         retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, zaptest.NewLogger(t).Sugar(), nil)
	svc := f.build(t, orch)

	buf := model.AudioBuffer{Data: make([]byte, 40<<20), MimeType: "audio/L16; rate=16000", Filename: "long.pcm"}
	_, err := svc.AnalyzeReading(context.Background(), student, buf)

	var tErr *model.TranscriptionServiceError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscriptionServiceError, got %v", err)
	}
	if tErr.ChunkIndex != 1 {
		t.Errorf("failed chunk = %d, want 1", tErr.ChunkIndex)
	}
	// no recorder, gate or LLM expectations: any call fails the test
}

func TestAnalyzeReadingScenarioC(t *testing.T) {
	f := newFixture(t)
	transcript := evenTranscript(5, 3, 0.8)

	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), true).Return(transcript, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), transcript.Text).
		Return(model.ModerationVerdict{IsSafe: false, Categories: []string{"self-harm", "violence"}}, nil)
	f.alerts.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1).
		DoAndReturn(func(ctx context.Context, alert model.GuardianAlert) error {
			if alert.ParentID != "parent-1" || alert.StudentID != "student-1" {
				t.Errorf("unexpected routing %+v", alert)
			}
			if strings.Join(alert.FlaggedCategories, ",") != "self-harm,violence" {
				t.Errorf("categories = %v", alert.FlaggedCategories)
			}
			if strings.Contains(fmt.Sprintf("%+v", alert), "word0") {
				t.Error("alert leaks transcript text")
			}
			return nil
		})

	got, err := f.svc.AnalyzeReading(context.Background(), student, wavBuffer(t, 3))
	var violation *model.ContentPolicyViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ContentPolicyViolation, got %v", err)
	}
	if got.Transcript != "" {
		t.Error("transcript returned despite violation")
	}
}

func TestFlaggedGuardianContentSendsNoAlert(t *testing.T) {
	f := newFixture(t)
	f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(llm.Completion{Content: "something"}, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), "bad request", "something").
		Return(model.ModerationVerdict{IsSafe: false, Categories: []string{"harassment"}}, nil)

	_, err := f.svc.ProcessCommand(context.Background(), guardian, "bad request", "")
	var violation *model.ContentPolicyViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ContentPolicyViolation, got %v", err)
	}
}

func TestProcessCommandScenarioD(t *testing.T) {
	f := newFixture(t)
	f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(llm.Completion{Content: "", TopLogProb: lp(-0.1)}, nil)

	_, err := f.svc.ProcessCommand(context.Background(), student, "open my book", "")
	if !errors.Is(err, model.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestProcessCommand(t *testing.T) {
	tests := []struct {
		name    string
		logProb *float64
		want    float64
	}{
		{"with log-prob", lp(-0.25), math.Exp(-0.25)},
		{"without log-prob", nil, math.Exp(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).
				DoAndReturn(func(ctx context.Context, req llm.Request) (llm.Completion, error) {
					if !req.LogProbs {
						t.Error("command must request log-probabilities")
					}
					if !strings.Contains(req.Messages[0].Content, "chapter 3") {
						t.Error("prompt context missing from system prompt")
					}
					return llm.Completion{Content: "Opening chapter 3.", TopLogProb: tt.logProb}, nil
				})
			f.gate.EXPECT().CheckAll(gomock.Any(), "go to chapter three", "Opening chapter 3.").Return(safe, nil)
			f.recorder.EXPECT().SaveRecord(gomock.Any(), gomock.Any()).
				DoAndReturn(func(ctx context.Context, rec model.Record) error {
					if rec.Type != model.RecordCommand || rec.Confidence == nil || *rec.Confidence != tt.want {
						t.Errorf("unexpected record %+v", rec)
					}
					return errors.New("disk full")
				})

			got, err := f.svc.ProcessCommand(context.Background(), student, " go to chapter three ", "book: chapter 3")
			if err != nil {
				t.Fatalf("ProcessCommand failed: %v", err)
			}
			if got.Command != "Opening chapter 3." {
				t.Errorf("command = %q", got.Command)
			}
			if math.Abs(got.Confidence-tt.want) > 1e-12 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.want)
			}
			if got.Metadata["context"] != "book: chapter 3" {
				t.Errorf("metadata = %v", got.Metadata)
			}
		})
	}
}

func TestProcessCommandRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ProcessCommand(context.Background(), student, "   ", ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestAnalyzeReadingFallsBackOnBadFeedback(t *testing.T) {
	f := newFixture(t)
	transcript := evenTranscript(10, 5, 0.7)

	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), true).Return(transcript, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), transcript.Text).Return(safe, nil)
	f.profiles.EXPECT().LearningProfile(gomock.Any(), "student-1").Return(model.LearningProfile{}, errors.New("analytics down"))
	f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(llm.Completion{Content: "Nice reading!"}, nil)
	f.recorder.EXPECT().SaveRecord(gomock.Any(), gomock.Any()).Return(nil)

	got, err := f.svc.AnalyzeReading(context.Background(), student, wavBuffer(t, 5))
	if err != nil {
		t.Fatalf("AnalyzeReading failed: %v", err)
	}
	if got.Metrics.WPM != 120 {
		t.Errorf("wpm = %v, want 120", got.Metrics.WPM)
	}
	if got.Feedback.Level != "" || len(got.Feedback.Suggestions) != 0 || got.Feedback.Suggestions == nil {
		t.Errorf("expected empty fallback feedback, got %+v", got.Feedback)
	}
}

func TestAnalyzeReadingInsufficientData(t *testing.T) {
	f := newFixture(t)
	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), true).Return(model.TranscriptionResult{}, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), "").Return(safe, nil)

	_, err := f.svc.AnalyzeReading(context.Background(), student, wavBuffer(t, 1))
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAnalyzeReadingUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AnalyzeReading(context.Background(), student, model.AudioBuffer{Data: []byte("not audio"), MimeType: "text/plain"})
	var unsupported *model.UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	f := newFixture(t)
	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any(), false).Return(model.TranscriptionResult{Text: "once upon a time"}, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), "once upon a time").Return(safe, nil)
	f.recorder.EXPECT().SaveRecord(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec model.Record) error {
			if rec.Type != model.RecordTranscription {
				t.Errorf("record type = %s", rec.Type)
			}
			return nil
		})

	got, err := f.svc.Transcribe(context.Background(), student, wavBuffer(t, 2))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got != "once upon a time" {
		t.Errorf("text = %q", got)
	}
}

func TestSpeakReply(t *testing.T) {
	f := newFixture(t)
	f.llm.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(llm.Completion{Content: "Sure. Opening it now!"}, nil)
	f.gate.EXPECT().CheckAll(gomock.Any(), gomock.Any(), gomock.Any()).Return(safe, nil)
	f.recorder.EXPECT().SaveRecord(gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		f.synth.EXPECT().Synthesize(gomock.Any(), "Sure.").Return([]byte("A"), nil),
		f.synth.EXPECT().Synthesize(gomock.Any(), "Opening it now!").Return([]byte("B"), nil),
	)
	f.synth.EXPECT().MimeType().Return("audio/mpeg")

	got, err := f.svc.SpeakReply(context.Background(), student, "open it", "")
	if err != nil {
		t.Fatalf("SpeakReply failed: %v", err)
	}
	if string(got.Audio) != "AB" || got.MimeType != "audio/mpeg" {
		t.Errorf("unexpected reply audio %q (%s)", got.Audio, got.MimeType)
	}
}

func TestSpeakReplyRecordsFailedCommand(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SpeakReply(context.Background(), student, "   ", "")
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}

	outcome := Outcome(err)
	if got := testutil.ToFloat64(f.metrics.Requests.WithLabelValues("speak", outcome)); got != 1 {
		t.Errorf("speak/%s requests = %v, want 1", outcome, got)
	}
	if got := testutil.ToFloat64(f.metrics.Requests.WithLabelValues("speak", "ok")); got != 0 {
		t.Errorf("speak/ok requests = %v, want 0", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&model.ContentPolicyViolation{}, "content_policy_violation"},
		{fmt.Errorf("wrap: %w", &model.UnsupportedFormatError{}), "unsupported_format"},
		{&model.TranscriptionServiceError{}, "transcription_failed"},
		{model.ErrInsufficientData, "insufficient_data"},
		{model.ErrEmptyCompletion, "empty_completion"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Deps{}, Config{}); err == nil {
		t.Fatal("expected an error")
	}
}
