package voice

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/llm"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/scoring"
)

// AnalyzeReading scores a recording of the principal reading aloud.
//
// The transcript is moderated before metrics are computed; a flagged
// transcript ends the call with a ContentPolicyViolation. Qualitative
// feedback is best effort: a failed profile lookup or an unusable LLM answer
// leaves the feedback fields empty and the metrics are still returned.
func (s *Service) AnalyzeReading(ctx context.Context, p model.Principal, buf model.AudioBuffer) (analysis model.ReadingAnalysis, err error) {
	started := s.now()
	ctx, log := s.begin(ctx, "reading", p)
	defer func() { s.finish("reading", started, err) }()

	transcript, err := s.transcribe(ctx, log, buf, true)
	if err != nil {
		log.Errorw("reading transcription failed", "error", err)
		return model.ReadingAnalysis{}, err
	}
	if err := s.gate(ctx, log, p, transcript.Text); err != nil {
		return model.ReadingAnalysis{}, err
	}

	metrics, err := s.deps.Engine.ComputeMetrics(transcript.Words)
	if err != nil {
		log.Warnw("cannot score reading", "words", len(transcript.Words), "error", err)
		return model.ReadingAnalysis{}, err
	}

	profile := s.profile(ctx, log, p.UserID)
	feedback := s.feedback(ctx, log, transcript.Text, metrics, profile)

	analysis = model.ReadingAnalysis{
		Transcript: transcript.Text,
		Duration:   scoring.Duration(transcript.Words),
		WordCount:  len(transcript.Words),
		Metrics:    metrics,
		Feedback:   feedback,
	}

	s.record(ctx, log, model.Record{
		UserID:     p.UserID,
		Type:       model.RecordReading,
		Text:       transcript.Text,
		Metrics:    &metrics,
		StartedAt:  started,
		FinishedAt: s.now(),
	})
	log.Infow("reading analyzed", "words", analysis.WordCount, "wpm", metrics.WPM, "fluency", metrics.Fluency)
	return analysis, nil
}

// Transcribe returns the moderated plain-text transcript of a recording.
func (s *Service) Transcribe(ctx context.Context, p model.Principal, buf model.AudioBuffer) (text string, err error) {
	started := s.now()
	ctx, log := s.begin(ctx, "transcription", p)
	defer func() { s.finish("transcription", started, err) }()

	transcript, err := s.transcribe(ctx, log, buf, false)
	if err != nil {
		log.Errorw("transcription failed", "error", err)
		return "", err
	}
	if err := s.gate(ctx, log, p, transcript.Text); err != nil {
		return "", err
	}

	s.record(ctx, log, model.Record{
		UserID:     p.UserID,
		Type:       model.RecordTranscription,
		Text:       transcript.Text,
		StartedAt:  started,
		FinishedAt: s.now(),
	})
	return transcript.Text, nil
}

func (s *Service) profile(ctx context.Context, log *zap.SugaredLogger, userID string) model.LearningProfile {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProfileTimeout)
	defer cancel()

	profile, err := s.deps.Profiles.LearningProfile(ctx, userID)
	if err != nil {
		log.Warnw("learning profile unavailable", "error", err)
		return model.LearningProfile{UserID: userID}
	}
	return profile
}

// feedback asks the LLM for qualitative feedback. The answer is validated
// and moderated; anything unusable becomes the empty fallback.
func (s *Service) feedback(ctx context.Context, log *zap.SugaredLogger, transcript string, m model.ReadingMetrics, profile model.LearningProfile) model.ReadingFeedback {
	completion, err := s.complete(ctx, llm.Request{
		Messages:    llm.FeedbackMessages(transcript, m, profile),
		Temperature: s.cfg.FeedbackTemperature,
		MaxTokens:   s.cfg.FeedbackMaxTokens,
		JSON:        true,
	})
	if err != nil {
		log.Warnw("feedback completion failed", "error", err)
		return llm.FallbackFeedback()
	}

	feedback, err := llm.DecodeFeedback(completion.Content)
	if err != nil {
		log.Warnw("feedback completion was malformed", "error", err)
		return llm.FallbackFeedback()
	}

	texts := append(append([]string{}, feedback.Suggestions...), feedback.ImprovementAreas...)
	if len(texts) == 0 {
		return feedback
	}
	verdict, err := s.deps.Gate.CheckAll(ctx, strings.Join(texts, "\n"))
	if err != nil || !verdict.IsSafe {
		log.Warnw("feedback withheld by moderation", "categories", verdict.Categories, "error", err)
		fallback := llm.FallbackFeedback()
		fallback.Level = feedback.Level
		return fallback
	}
	return feedback
}
