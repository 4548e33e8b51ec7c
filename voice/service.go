// Package voice is the entry point of the analysis pipeline. A Service is
// built once at process start with all of its collaborators and shared by
// request handlers; it keeps no per-request state.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/audio"
	"github.com/mrsingh-rishi/voice-analysis/llm"
	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
	"github.com/mrsingh-rishi/voice-analysis/scoring"
	"github.com/mrsingh-rishi/voice-analysis/stt"
)

//go:generate mockgen -destination=../mocks/mock_voice.go -package=mocks github.com/mrsingh-rishi/voice-analysis/voice Transcriber,ContentGate,ProfileSource,Recorder,AlertNotifier,Synthesizer

// Transcriber turns a chunk sequence into one ordered transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, chunks stt.ChunkSource, verbose bool) (model.TranscriptionResult, error)
}

// ContentGate classifies one or more payloads in a single check.
type ContentGate interface {
	CheckAll(ctx context.Context, texts ...string) (model.ModerationVerdict, error)
}

// ProfileSource looks up a user's learning style.
type ProfileSource interface {
	LearningProfile(ctx context.Context, userID string) (model.LearningProfile, error)
}

// Recorder persists the outcome of a successful run.
type Recorder interface {
	SaveRecord(ctx context.Context, rec model.Record) error
}

// AlertNotifier receives guardian alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, alert model.GuardianAlert) error
}

// Synthesizer renders text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	MimeType() string
}

var (
	// ErrEmptyText is returned for a blank command.
	ErrEmptyText = errors.New("text is required")
	// ErrSpeechUnavailable is returned by SpeakReply without a Synthesizer.
	ErrSpeechUnavailable = errors.New("speech synthesis is not configured")
)

// Deps are the collaborators of a Service. Synthesizer is optional.
type Deps struct {
	Normalizer  *audio.Normalizer
	Splitter    *audio.Splitter
	Transcriber Transcriber
	Gate        ContentGate
	Engine      *scoring.Engine
	LLM         llm.Completer
	Profiles    ProfileSource
	Recorder    Recorder
	Alerts      AlertNotifier
	Synthesizer Synthesizer
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

// Config tunes LLM calls and collaborator timeouts.
type Config struct {
	CommandTemperature  float32
	CommandMaxTokens    int
	FeedbackTemperature float32
	FeedbackMaxTokens   int
	LLMTimeout          time.Duration
	LLMRetry            retry.Policy
	ProfileTimeout      time.Duration
	RecordTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		CommandTemperature:  0.3,
		CommandMaxTokens:    256,
		FeedbackTemperature: 0.2,
		FeedbackMaxTokens:   512,
		LLMTimeout:          60 * time.Second,
		LLMRetry:            retry.DefaultPolicy(),
		ProfileTimeout:      5 * time.Second,
		RecordTimeout:       5 * time.Second,
	}
}

// Service runs the voice-analysis operations.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewService checks that every required collaborator is present and fills
// zero config fields with defaults.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case deps.Splitter == nil:
		return nil, fmt.Errorf("splitter is required")
	case deps.Transcriber == nil:
		return nil, fmt.Errorf("transcriber is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("moderation gate is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("scoring engine is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("completion client is required")
	case deps.Profiles == nil:
		return nil, fmt.Errorf("profile source is required")
	case deps.Recorder == nil:
		return nil, fmt.Errorf("recorder is required")
	case deps.Alerts == nil:
		return nil, fmt.Errorf("alert notifier is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	}

	def := DefaultConfig()
	if cfg.CommandMaxTokens <= 0 {
		cfg.CommandMaxTokens = def.CommandMaxTokens
	}
	if cfg.FeedbackMaxTokens <= 0 {
		cfg.FeedbackMaxTokens = def.FeedbackMaxTokens
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = def.LLMTimeout
	}
	if cfg.LLMRetry.MaxAttempts <= 0 {
		cfg.LLMRetry = def.LLMRetry
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = def.ProfileTimeout
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = def.RecordTimeout
	}
	return &Service{deps: deps, cfg: cfg, now: time.Now}, nil
}

// begin tags ctx with a request ID and returns a request-scoped logger.
func (s *Service) begin(ctx context.Context, op string, p model.Principal) (context.Context, *zap.SugaredLogger) {
	id := model.RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = model.WithRequestID(ctx, id)
	}
	return ctx, s.deps.Logger.With("requestID", id, "operation", op, "userID", p.UserID)
}

// finish records the request outcome.
func (s *Service) finish(op string, started time.Time, err error) {
	s.deps.Metrics.ObserveRequest(op, Outcome(err), time.Since(started))
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	var (
		unsupported *model.UnsupportedFormatError
		transcribe  *model.TranscriptionServiceError
		violation   *model.ContentPolicyViolation
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &violation):
		return "content_policy_violation"
	case errors.As(err, &unsupported):
		return "unsupported_format"
	case errors.As(err, &transcribe):
		return "transcription_failed"
	case errors.Is(err, model.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, model.ErrEmptyCompletion):
		return "empty_completion"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// gate runs moderation over texts. A flagged result alerts the guardian of
// a dependent principal exactly once and becomes a ContentPolicyViolation.
func (s *Service) gate(ctx context.Context, log *zap.SugaredLogger, p model.Principal, texts ...string) error {
	verdict, err := s.deps.Gate.CheckAll(ctx, texts...)
	if err != nil {
		return err
	}
	if verdict.IsSafe {
		return nil
	}

	if p.IsDependent() {
		alert := model.GuardianAlert{
			ID:                uuid.NewString(),
			ParentID:          p.ParentID,
			StudentID:         p.UserID,
			FlaggedCategories: verdict.Categories,
			OccurredAt:        s.now().UTC(),
		}
		if err := s.deps.Alerts.Notify(context.WithoutCancel(ctx), alert); err != nil {
			log.Errorw("failed to queue guardian alert", "alertID", alert.ID, "error", err)
		} else {
			log.Infow("guardian alert queued", "alertID", alert.ID, "categories", verdict.Categories)
		}
	}
	return &model.ContentPolicyViolation{Categories: verdict.Categories}
}

// complete calls the LLM with retries and a per-attempt timeout.
func (s *Service) complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	var out llm.Completion
	_, err := retry.Do(ctx, s.cfg.LLMRetry, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()

		var err error
		out, err = s.deps.LLM.Complete(callCtx, req)
		return err
	})
	return out, err
}

// record persists rec. Failures are logged, the run already succeeded.
func (s *Service) record(ctx context.Context, log *zap.SugaredLogger, rec model.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()

	rec.ID = uuid.NewString()
	if err := s.deps.Recorder.SaveRecord(ctx, rec); err != nil {
		log.Errorw("failed to persist record", "recordType", rec.Type, "error", err)
	}
}

// transcribe runs normalize, split and ordered transcription.
func (s *Service) transcribe(ctx context.Context, log *zap.SugaredLogger, buf model.AudioBuffer, verbose bool) (model.TranscriptionResult, error) {
	normalized, err := s.deps.Normalizer.Normalize(buf)
	if err != nil {
		log.Warnw("audio rejected", "mimeType", buf.MimeType, "filename", buf.Filename, "error", err)
		return model.TranscriptionResult{}, err
	}
	chunks, err := s.deps.Splitter.Split(normalized)
	if err != nil {
		return model.TranscriptionResult{}, err
	}
	log.Infow("audio normalized", "bytes", normalized.Length(), "seconds", normalized.Duration(), "chunks", chunks.Count())

	return s.deps.Transcriber.Transcribe(ctx, chunks, verbose)
}
