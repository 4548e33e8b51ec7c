package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData is returned when metrics are requested for no words.
	ErrInsufficientData = errors.New("insufficient data: no words to score")
	// ErrEmptyCompletion is returned when the LLM produced no usable content.
	ErrEmptyCompletion = errors.New("completion service returned no content")
)

// UnsupportedFormatError means the input audio could not be decoded. Not retryable.
type UnsupportedFormatError struct {
	MimeType string
	Filename string
	Err      error
}

func (e *UnsupportedFormatError) Error() string {
	msg := fmt.Sprintf("unsupported audio format (mime=%q file=%q)", e.MimeType, e.Filename)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

// TranscriptionServiceError wraps the failure of a single chunk. The whole
// transcription fails with it; no partial transcript is returned.
type TranscriptionServiceError struct {
	ChunkIndex int
	Attempts   int
	Err        error
}

func (e *TranscriptionServiceError) Error() string {
	return fmt.Sprintf("failed to transcribe chunk %d after %d attempt(s): %v", e.ChunkIndex, e.Attempts, e.Err)
}

func (e *TranscriptionServiceError) Unwrap() error { return e.Err }

// ContentPolicyViolation is the uniform outcome when moderation flags content.
type ContentPolicyViolation struct {
	Categories []string
}

func (e *ContentPolicyViolation) Error() string {
	if len(e.Categories) == 0 {
		return "content policy violation"
	}
	return "content policy violation: " + strings.Join(e.Categories, ",")
}
