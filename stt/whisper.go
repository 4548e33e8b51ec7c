package stt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/voice-analysis/audio"
	"github.com/mrsingh-rishi/voice-analysis/model"
)

// defaultWordConfidence is used when Whisper returns no segment to derive one from.
const defaultWordConfidence = 0.9

// Whisper transcribes chunks with the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper creates a Whisper transcriber. An empty model means whisper-1.
func NewWhisper(client *openai.Client, model string) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: client, model: model}
}

// Transcribe uploads the chunk as WAV. In verbose mode word timestamps are
// requested; Whisper has no per-word probability, so each word inherits the
// exp(avg_logprob) of the segment it falls in.
func (w *Whisper) Transcribe(ctx context.Context, chunk model.AudioChunk, opts Options) (model.TranscriptionResult, error) {
	wavData, err := audio.EncodeWAV(chunk.Data, chunk.SampleRate)
	if err != nil {
		return model.TranscriptionResult{}, err
	}

	req := openai.AudioRequest{
		Model:    w.model,
		FilePath: fmt.Sprintf("chunk-%04d.wav", chunk.Index),
		Reader:   bytes.NewReader(wavData),
		Language: opts.Language,
		Format:   openai.AudioResponseFormatText,
	}
	if opts.Verbose {
		req.Format = openai.AudioResponseFormatVerboseJSON
		req.TimestampGranularities = []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		}
	}

	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return model.TranscriptionResult{}, err
	}

	result := model.TranscriptionResult{Text: strings.TrimSpace(resp.Text)}
	if !opts.Verbose {
		return result, nil
	}

	type span struct{ start, end, confidence float64 }
	spans := make([]span, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		spans = append(spans, span{s.Start, s.End, clamp01(math.Exp(s.AvgLogprob))})
	}

	result.Words = make([]model.WordTiming, 0, len(resp.Words))
	for _, word := range resp.Words {
		confidence := defaultWordConfidence
		mid := (word.Start + word.End) / 2
		for _, s := range spans {
			if mid >= s.start && mid <= s.end {
				confidence = s.confidence
				break
			}
		}
		result.Words = append(result.Words, model.WordTiming{
			Word:       strings.TrimSpace(word.Word),
			Start:      word.Start,
			End:        word.End,
			Confidence: confidence,
		})
	}
	return result, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
