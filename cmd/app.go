package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/audio"
	"github.com/mrsingh-rishi/voice-analysis/config"
	"github.com/mrsingh-rishi/voice-analysis/llm"
	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/moderation"
	"github.com/mrsingh-rishi/voice-analysis/output"
	"github.com/mrsingh-rishi/voice-analysis/queue"
	"github.com/mrsingh-rishi/voice-analysis/retry"
	"github.com/mrsingh-rishi/voice-analysis/scoring"
	"github.com/mrsingh-rishi/voice-analysis/store"
	"github.com/mrsingh-rishi/voice-analysis/stt"
	"github.com/mrsingh-rishi/voice-analysis/tts"
	"github.com/mrsingh-rishi/voice-analysis/voice"
	"github.com/mrsingh-rishi/voice-analysis/workers"
)

// app holds every long-lived component of one process.
type app struct {
	service *voice.Service
	store   *store.SQLiteStore
	alerts  *workers.AlertWorker
	closers []io.Closer
	logger  *zap.SugaredLogger
}

// newApp builds the pipeline from cfg. The alert worker is started; call
// close to stop it and release connections.
func newApp(cfg *config.Config, logger *zap.SugaredLogger, reg prometheus.Registerer) (*app, error) {
	m := metrics.NewMetrics(reg)
	a := &app{logger: logger}

	db, err := store.NewSQLiteStore(store.Config{Path: cfg.Store.SQLitePath})
	if err != nil {
		return nil, err
	}
	a.store = db
	a.closers = append(a.closers, db)

	oaCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		oaCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	oaCfg.HTTPClient = &http.Client{Timeout: cfg.OpenAI.Timeout}
	client := openai.NewClientWithConfig(oaCfg)

	transcriber, err := newTranscriber(cfg, client, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	retryPolicy := retry.DefaultPolicy()
	retryPolicy.MaxAttempts = cfg.Transcription.MaxAttempts
	orchestrator := stt.NewOrchestrator(transcriber, stt.OrchestratorConfig{
		Language:      cfg.Transcription.Language,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Retry:         retryPolicy,
		CallTimeout:   cfg.Transcription.CallTimeout,
	}, logger, m)

	gate := moderation.NewGate(
		moderation.NewOpenAIModerator(client, cfg.OpenAI.ModerationModel),
		moderation.Config{CallTimeout: cfg.OpenAI.Timeout},
		logger, m,
	)

	sinks, err := a.alertSinks(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.alerts, err = workers.NewAlertWorker(workers.AlertWorkerConfig{
		RetryInterval: cfg.Alerts.RetryInterval,
		MaxAttempts:   cfg.Alerts.MaxAttempts,
	}, sinks, logger, m)
	if err != nil {
		a.close()
		return nil, err
	}

	var synth voice.Synthesizer
	if cfg.ElevenLabs.APIKey != "" {
		el, err := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabs.APIKey,
			VoiceID: cfg.ElevenLabs.VoiceID,
			ModelID: cfg.ElevenLabs.ModelID,
		}, nil)
		if err != nil {
			a.close()
			return nil, err
		}
		synth = el
	}

	a.service, err = voice.NewService(voice.Deps{
		Normalizer: audio.NewNormalizer(),
		Splitter: audio.NewSplitter(audio.SplitterConfig{
			MaxChunkBytes:   cfg.Audio.MaxChunkBytes,
			MaxChunkSeconds: cfg.Audio.MaxChunkSeconds,
		}),
		Transcriber: orchestrator,
		Gate:        gate,
		Engine:      scoring.NewEngine(cfg.Scoring),
		LLM:         llm.NewOpenAIClient(client, cfg.OpenAI.ChatModel),
		Profiles:    db,
		Recorder:    db,
		Alerts:      a.alerts,
		Synthesizer: synth,
		Logger:      logger,
		Metrics:     m,
	}, voice.Config{
		CommandTemperature:  cfg.LLM.CommandTemperature,
		CommandMaxTokens:    cfg.LLM.CommandMaxTokens,
		FeedbackTemperature: cfg.LLM.FeedbackTemperature,
		FeedbackMaxTokens:   cfg.LLM.FeedbackMaxTokens,
		LLMTimeout:          cfg.OpenAI.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.alerts.Start()
	return a, nil
}

func newTranscriber(cfg *config.Config, client *openai.Client, logger *zap.SugaredLogger) (stt.Transcriber, error) {
	switch cfg.Transcription.Provider {
	case config.ProviderDeepgram:
		return stt.NewDeepgram(stt.DeepgramConfig{
			APIKey: cfg.Deepgram.APIKey,
			URL:    cfg.Deepgram.URL,
			Model:  cfg.Deepgram.Model,
		}, logger)
	case config.ProviderOpenAI:
		return stt.NewWhisper(client, cfg.OpenAI.TranscriptionModel), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", cfg.Transcription.Provider)
}

// alertSinks always keeps an audit copy in SQLite and adds the queue and SMS
// sinks that are configured.
func (a *app) alertSinks(cfg *config.Config) ([]workers.AlertSink, error) {
	sinks := []workers.AlertSink{workers.SinkFunc("sqlite", a.store.SaveAlert)}

	if cfg.RabbitMQ.URL != "" {
		producer, err := queue.NewRabbitMQProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.AlertQueue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer)
		sinks = append(sinks, producer)
	}
	if cfg.Twilio.AccountSID != "" {
		sms, err := output.NewTwilioSMS(output.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
		}, a.store)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sms)
	}
	return sinks, nil
}

// close stops the alert worker, which flushes queued alerts, then releases
// connections in reverse order.
func (a *app) close() {
	if a.alerts != nil {
		a.alerts.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warnw("close failed", "error", err)
		}
	}
	_ = a.logger.Sync()
}
