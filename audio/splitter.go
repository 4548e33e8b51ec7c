package audio

import (
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

const (
	// MaxChunkBytes is the transcription service upload limit (25 MiB).
	MaxChunkBytes = 25 << 20
	// MaxChunkSeconds bounds the duration of every emitted chunk.
	MaxChunkSeconds = 30
)

// SplitterConfig bounds chunk size and duration.
type SplitterConfig struct {
	MaxChunkBytes   int
	MaxChunkSeconds float64
}

// DefaultSplitterConfig returns the service limits.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		MaxChunkBytes:   MaxChunkBytes,
		MaxChunkSeconds: MaxChunkSeconds,
	}
}

// Splitter cuts normalized audio into bounded chunks.
type Splitter struct {
	cfg SplitterConfig
}

// NewSplitter fills zero fields of cfg with defaults.
func NewSplitter(cfg SplitterConfig) *Splitter {
	def := DefaultSplitterConfig()
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
	if cfg.MaxChunkSeconds <= 0 {
		cfg.MaxChunkSeconds = def.MaxChunkSeconds
	}
	return &Splitter{cfg: cfg}
}

// Split returns a lazy sequence over a. Buffers up to MaxChunkBytes come back
// as a single chunk; larger ones are cut every MaxChunkSeconds of audio.
func (s *Splitter) Split(a model.NormalizedAudio) (*Chunks, error) {
	if a.Length()%model.BytesPerSample != 0 {
		return nil, errors.Errorf("normalized audio length %d is not a whole number of frames", a.Length())
	}
	rate := a.SampleRate
	if rate <= 0 {
		rate = model.SampleRate
	}

	step := a.Length()
	if a.Length() > s.cfg.MaxChunkBytes {
		frames := int(s.cfg.MaxChunkSeconds * float64(rate))
		step = frames * model.BytesPerSample
		if limit := s.cfg.MaxChunkBytes - s.cfg.MaxChunkBytes%model.BytesPerSample; step > limit {
			step = limit
		}
		if step <= 0 {
			return nil, errors.Errorf("chunk limits too small: %+v", s.cfg)
		}
	}
	return &Chunks{src: a.PCM, rate: rate, step: step}, nil
}

// Chunks is a finite, non-restartable sequence of chunks. Each chunk aliases
// the source buffer; nothing is copied.
type Chunks struct {
	src   []byte
	rate  int
	step  int
	off   int
	index int
	done  bool
}

// Next returns the following chunk, or false once the source is covered.
func (c *Chunks) Next() (model.AudioChunk, bool) {
	if c.done {
		return model.AudioChunk{}, false
	}
	end := c.off + c.step
	if end >= len(c.src) {
		end = len(c.src)
		c.done = true
	}
	chunk := model.AudioChunk{
		Index:      c.index,
		Offset:     c.off,
		Data:       c.src[c.off:end:end],
		SampleRate: c.rate,
	}
	c.off = end
	c.index++
	return chunk, true
}

// Count is the total number of chunks the sequence emits.
func (c *Chunks) Count() int {
	if c.step == 0 || len(c.src) == 0 {
		return 1
	}
	return (len(c.src) + c.step - 1) / c.step
}
