package model

import "time"

const (
	// SampleRate is the canonical PCM sample rate in Hz.
	SampleRate = 16000
	// Channels is the canonical channel count.
	Channels = 1
	// BytesPerSample is the width of one 16-bit little-endian sample frame.
	BytesPerSample = 2
)

// AudioBuffer is the raw upload as received. It is never mutated.
type AudioBuffer struct {
	Data     []byte
	MimeType string
	Filename string
}

// NormalizedAudio is 16 kHz mono PCM16. Length is always a whole number of frames.
type NormalizedAudio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Length returns the PCM byte length.
func (a NormalizedAudio) Length() int {
	return len(a.PCM)
}

// Duration returns the playback duration in seconds.
func (a NormalizedAudio) Duration() float64 {
	return BytesToSeconds(len(a.PCM), a.SampleRate)
}

// AudioChunk represents a contiguous slice of normalized audio.
type AudioChunk struct {
	Index      int
	Offset     int // byte offset into the source buffer
	Data       []byte
	SampleRate int
}

// StartSeconds is the chunk's position in the source recording.
func (c AudioChunk) StartSeconds() float64 {
	return BytesToSeconds(c.Offset, c.SampleRate)
}

// Duration is the estimated chunk duration in seconds.
func (c AudioChunk) Duration() float64 {
	return BytesToSeconds(len(c.Data), c.SampleRate)
}

// BytesToSeconds estimates the duration of n bytes of mono PCM16.
func BytesToSeconds(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return float64(n) / float64(sampleRate*BytesPerSample)
}

// WordTiming is one transcribed word. Times are in seconds.
type WordTiming struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptionResult represents text produced by a transcription service.
type TranscriptionResult struct {
	Text  string       `json:"text"`
	Words []WordTiming `json:"words,omitempty"`
}

// ModerationVerdict is the outcome of a moderation check.
type ModerationVerdict struct {
	IsSafe     bool     `json:"isSafe"`
	Categories []string `json:"categories"`
}

// ReadingMetrics are derived once and never mutated.
type ReadingMetrics struct {
	WPM           float64 `json:"wpm"`
	Accuracy      float64 `json:"accuracy"`
	Fluency       float64 `json:"fluency"`
	Comprehension float64 `json:"comprehension"`
	PolicyVersion string  `json:"policyVersion"`
}

// VoiceCommandResult is the interpreted command and its confidence.
type VoiceCommandResult struct {
	Command    string         `json:"command"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ReadingFeedback is the qualitative half of a reading analysis.
type ReadingFeedback struct {
	Level            string   `json:"level"`
	Suggestions      []string `json:"suggestions"`
	ImprovementAreas []string `json:"improvementAreas"`
}

// LearningProfile is an opaque learning-style descriptor.
type LearningProfile struct {
	UserID string `json:"userId"`
	Style  string `json:"style"`
}

// ReadingAnalysis merges quantitative metrics with LLM feedback.
type ReadingAnalysis struct {
	Transcript string          `json:"transcript"`
	Duration   float64         `json:"duration"`
	WordCount  int             `json:"wordCount"`
	Metrics    ReadingMetrics  `json:"metrics"`
	Feedback   ReadingFeedback `json:"feedback"`
}

// Role of the acting principal.
type Role string

const (
	RoleDependent Role = "dependent"
	RoleGuardian  Role = "guardian"
	RoleAdmin     Role = "admin"
)

// Principal is the authenticated caller of a pipeline operation.
type Principal struct {
	UserID   string
	Role     Role
	ParentID string
}

// IsDependent reports whether flagged content must alert a guardian.
func (p Principal) IsDependent() bool {
	return p.Role == RoleDependent && p.ParentID != ""
}

// RecordType tags persisted records.
type RecordType string

const (
	RecordReading       RecordType = "reading"
	RecordCommand       RecordType = "command"
	RecordTranscription RecordType = "transcription"
)

// Record is written to the persistence collaborator after a successful run.
type Record struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Type       RecordType      `json:"type"`
	Text       string          `json:"text"`
	Metrics    *ReadingMetrics `json:"metrics,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// GuardianAlert carries flagged category labels only, never the flagged text.
type GuardianAlert struct {
	ID                string    `json:"id"`
	ParentID          string    `json:"parentId"`
	StudentID         string    `json:"studentId"`
	FlaggedCategories []string  `json:"flaggedCategories"`
	OccurredAt        time.Time `json:"occurredAt"`
}
