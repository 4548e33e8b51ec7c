// Package stt turns normalized audio chunks into text.
//
// A Transcriber handles one chunk against one external service. The
// Orchestrator drives a whole recording through a Transcriber: it fans chunks
// out to a bounded number of concurrent calls and merges the results back in
// chunk order, shifting word timestamps onto the recording's timeline.
package stt

import (
	"context"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// Options control a single transcription call.
type Options struct {
	// Language is the ISO-639-1 hint passed to the service.
	Language string
	// Verbose requests word-level timing and confidence.
	Verbose bool
}

// Transcriber transcribes one chunk. Word timestamps in the result are
// relative to the start of the chunk.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk model.AudioChunk, opts Options) (model.TranscriptionResult, error)
}
