package voice

import (
	"context"
	"strings"

	"github.com/mrsingh-rishi/voice-analysis/llm"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/scoring"
)

// ProcessCommand interprets a spoken command with the LLM. The command text
// and the completion are moderated together before anything is returned.
// Confidence is exp of the top token's log-probability.
func (s *Service) ProcessCommand(ctx context.Context, p model.Principal, text, promptContext string) (res model.VoiceCommandResult, err error) {
	started := s.now()
	ctx, log := s.begin(ctx, "command", p)
	defer func() { s.finish("command", started, err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return model.VoiceCommandResult{}, ErrEmptyText
	}

	completion, err := s.complete(ctx, llm.Request{
		Messages:    llm.CommandMessages(text, promptContext),
		Temperature: s.cfg.CommandTemperature,
		MaxTokens:   s.cfg.CommandMaxTokens,
		LogProbs:    true,
	})
	if err != nil {
		log.Errorw("command completion failed", "error", err)
		return model.VoiceCommandResult{}, err
	}
	if completion.Content == "" {
		log.Warnw("command completion was empty")
		return model.VoiceCommandResult{}, model.ErrEmptyCompletion
	}

	if err := s.gate(ctx, log, p, text, completion.Content); err != nil {
		return model.VoiceCommandResult{}, err
	}

	confidence := scoring.ScoreConfidence(completion.TopLogProb)
	res = model.VoiceCommandResult{
		Command:    completion.Content,
		Confidence: confidence,
		Metadata: map[string]any{
			"context":          promptContext,
			"requestId":        model.RequestID(ctx),
			"logProbAvailable": completion.TopLogProb != nil,
		},
	}

	s.record(ctx, log, model.Record{
		UserID:     p.UserID,
		Type:       model.RecordCommand,
		Text:       text,
		Confidence: &confidence,
		StartedAt:  started,
		FinishedAt: s.now(),
	})
	log.Infow("command processed", "confidence", confidence)
	return res, nil
}

// Reply is a processed command rendered to speech.
type Reply struct {
	Result   model.VoiceCommandResult
	Audio    []byte
	MimeType string
}

// SpeakReply processes a command and synthesizes the moderated reply
// sentence by sentence.
func (s *Service) SpeakReply(ctx context.Context, p model.Principal, text, promptContext string) (Reply, error) {
	if s.deps.Synthesizer == nil {
		return Reply{}, ErrSpeechUnavailable
	}
	started := s.now()
	ctx, log := s.begin(ctx, "speak", p)
	result, err := s.ProcessCommand(ctx, p, text, promptContext)
	if err != nil {
		s.finish("speak", started, err)
		return Reply{}, err
	}

	var speech []byte
	for _, sentence := range llm.Sentences(result.Command) {
		audio, err := s.deps.Synthesizer.Synthesize(ctx, sentence)
		if err != nil {
			log.Errorw("speech synthesis failed", "error", err)
			s.finish("speak", started, err)
			return Reply{}, err
		}
		speech = append(speech, audio...)
	}
	s.finish("speak", started, nil)
	return Reply{Result: result, Audio: speech, MimeType: s.deps.Synthesizer.MimeType()}, nil
}
