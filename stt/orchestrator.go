package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
)

// ChunkSource yields chunks in index order, once. *audio.Chunks satisfies it.
type ChunkSource interface {
	Next() (model.AudioChunk, bool)
}

// OrchestratorConfig configures chunk submission.
type OrchestratorConfig struct {
	Language      string
	MaxConcurrent int
	Retry         retry.Policy
	CallTimeout   time.Duration
}

// DefaultOrchestratorConfig returns a small worker pool with bounded retries.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Language:      "en",
		MaxConcurrent: 3,
		Retry:         retry.DefaultPolicy(),
		CallTimeout:   60 * time.Second,
	}
}

// Orchestrator transcribes a chunk sequence into one ordered result.
type Orchestrator struct {
	transcriber Transcriber
	cfg         OrchestratorConfig
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
}

// NewOrchestrator fills zero fields of cfg with defaults. m may be nil.
func NewOrchestrator(t Transcriber, cfg OrchestratorConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Orchestrator{transcriber: t, cfg: cfg, logger: logger, metrics: m}
}

// slot holds one chunk's outcome, addressed by chunk index.
type slot struct {
	start    float64
	result   model.TranscriptionResult
	attempts int
	err      error
}

// Transcribe submits chunks to at most MaxConcurrent concurrent calls and
// reassembles the results in index order. A chunk is pulled from the source
// only when a worker is free, so at most MaxConcurrent chunks are held.
//
// The first failed chunk stops further submission and the call returns a
// *model.TranscriptionServiceError for the lowest failed index; no partial
// transcript is returned. Cancelling ctx also stops submission, but calls
// already in flight run until they finish or hit CallTimeout. A cancel that
// lands after the last chunk was handed out does not fail the call.
func (o *Orchestrator) Transcribe(ctx context.Context, chunks ChunkSource, verbose bool) (model.TranscriptionResult, error) {
	opts := Options{Language: o.cfg.Language, Verbose: verbose}
	log := o.logger.With("requestID", model.RequestID(ctx))

	submit, stopSubmit := context.WithCancel(ctx)
	defer stopSubmit()

	var (
		mu    sync.Mutex
		arena []slot
		wg    sync.WaitGroup
		sem   = make(chan struct{}, o.cfg.MaxConcurrent)
	)

	exhausted := false
	for !exhausted {
		select {
		case sem <- struct{}{}:
		case <-submit.Done():
		}
		if submit.Err() != nil {
			// every chunk may already be out; that is completion, not an abort
			if _, ok := chunks.Next(); !ok {
				exhausted = true
			}
			break
		}

		chunk, ok := chunks.Next()
		if !ok {
			<-sem
			exhausted = true
			break
		}

		mu.Lock()
		for len(arena) <= chunk.Index {
			arena = append(arena, slot{})
		}
		arena[chunk.Index].start = chunk.StartSeconds()
		mu.Unlock()

		wg.Add(1)
		go func(chunk model.AudioChunk) {
			defer wg.Done()
			defer func() { <-sem }()

			began := time.Now()
			result, attempts, err := o.transcribeChunk(ctx, chunk, opts)
			o.metrics.ObserveChunk(len(chunk.Data), attempts, err != nil, time.Since(began))

			mu.Lock()
			arena[chunk.Index].result = result
			arena[chunk.Index].attempts = attempts
			arena[chunk.Index].err = err
			mu.Unlock()

			if err != nil {
				log.Errorw("chunk transcription failed", "chunk", chunk.Index, "attempts", attempts, "error", err)
				stopSubmit()
			}
		}(chunk)
	}
	wg.Wait()
	o.metrics.ObserveChunks(len(arena))

	for i, s := range arena {
		if s.err != nil {
			return model.TranscriptionResult{}, &model.TranscriptionServiceError{ChunkIndex: i, Attempts: s.attempts, Err: s.err}
		}
	}
	if !exhausted {
		return model.TranscriptionResult{}, fmt.Errorf("transcription aborted after %d chunk(s): %w", len(arena), ctx.Err())
	}
	return merge(arena), nil
}

// transcribeChunk retries one chunk. Each attempt gets its own timeout that
// is detached from caller cancellation.
func (o *Orchestrator) transcribeChunk(ctx context.Context, chunk model.AudioChunk, opts Options) (model.TranscriptionResult, int, error) {
	var result model.TranscriptionResult
	attempts, err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
		defer cancel()

		var err error
		result, err = o.transcriber.Transcribe(callCtx, chunk, opts)
		if err != nil && attempt < o.cfg.Retry.MaxAttempts && retry.Retryable(err) {
			o.logger.Warnw("retrying chunk transcription", "requestID", model.RequestID(ctx), "chunk", chunk.Index, "attempt", attempt, "error", err)
		}
		return err
	})
	return result, attempts, err
}

// merge joins chunk texts with single spaces and shifts each chunk's word
// timings by the chunk's start so global timing stays monotonic.
func merge(arena []slot) model.TranscriptionResult {
	texts := make([]string, 0, len(arena))
	var words []model.WordTiming
	for _, s := range arena {
		if text := strings.TrimSpace(s.result.Text); text != "" {
			texts = append(texts, text)
		}
		for _, w := range s.result.Words {
			w.Start += s.start
			w.End += s.start
			words = append(words, w)
		}
	}
	return model.TranscriptionResult{Text: strings.Join(texts, " "), Words: words}
}
