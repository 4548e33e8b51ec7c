package audio

import (
	"bytes"
	"io"
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// resampleQuality trades CPU for fidelity; 4 is beep's recommended default.
const resampleQuality = 4

// fullScale maps [-1, 1) onto the int16 range.
const fullScale = math.MaxInt16 + 1

// wav16Gain undoes beep's wav decoder scaling 16-bit samples by 1/(1<<16-1)
// instead of 1/(1<<15).
const wav16Gain = float64(1<<16-1) / fullScale

type container int

const (
	containerUnknown container = iota
	containerWAV
	containerMP3
	containerFLAC
	containerOgg
	containerRawPCM
)

// Normalizer converts arbitrary input audio into 16 kHz mono PCM16.
type Normalizer struct {
	sampleRate int
}

// NewNormalizer returns a Normalizer targeting the canonical sample rate.
func NewNormalizer() *Normalizer {
	return &Normalizer{sampleRate: model.SampleRate}
}

// Normalize decodes buf and resamples it. It is a pure transform: the same
// input always yields byte-identical output and no temp state survives.
func (n *Normalizer) Normalize(buf model.AudioBuffer) (model.NormalizedAudio, error) {
	kind, rawRate := detect(buf)
	if kind == containerUnknown {
		return model.NormalizedAudio{}, unsupported(buf, errors.New("unrecognised container"))
	}

	streamer, format, err := decode(kind, buf.Data, rawRate)
	if err != nil {
		return model.NormalizedAudio{}, unsupported(buf, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if kind == containerWAV && format.Precision == 2 {
		s = &effects.Gain{Streamer: s, Gain: wav16Gain - 1}
	}
	target := beep.SampleRate(n.sampleRate)
	if format.SampleRate != target {
		s = beep.Resample(resampleQuality, format.SampleRate, target, s)
	}

	pcm, err := drain(s, estimateFrames(len(buf.Data), format, target))
	if err != nil {
		return model.NormalizedAudio{}, unsupported(buf, err)
	}
	if len(pcm) == 0 {
		return model.NormalizedAudio{}, unsupported(buf, errors.New("no decodable audio frames"))
	}

	return model.NormalizedAudio{
		PCM:        pcm,
		SampleRate: n.sampleRate,
		Channels:   model.Channels,
	}, nil
}

func unsupported(buf model.AudioBuffer, err error) error {
	return &model.UnsupportedFormatError{MimeType: buf.MimeType, Filename: buf.Filename, Err: err}
}

// detect sniffs magic bytes first, then falls back to the declared MIME type
// and filename extension. Raw PCM has no header so it is only accepted when
// declared, with an optional rate parameter (audio/L16;rate=8000).
func detect(buf model.AudioBuffer) (container, int) {
	data := buf.Data
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return containerWAV, 0
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return containerFLAC, 0
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return containerOgg, 0
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return containerMP3, 0
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return containerMP3, 0
	}

	mediaType, params, _ := mime.ParseMediaType(buf.MimeType)
	switch strings.ToLower(mediaType) {
	case "audio/l16", "audio/pcm", "audio/x-pcm":
		rate := model.SampleRate
		if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
			rate = r
		}
		return containerRawPCM, rate
	}

	switch strings.ToLower(filepath.Ext(buf.Filename)) {
	case ".pcm", ".raw":
		return containerRawPCM, model.SampleRate
	}
	return containerUnknown, 0
}

func decode(kind container, data []byte, rawRate int) (beep.StreamSeekCloser, beep.Format, error) {
	r := bytes.NewReader(data)
	switch kind {
	case containerWAV:
		s, f, err := wav.Decode(r)
		return s, f, errors.Wrap(err, "decode wav")
	case containerMP3:
		s, f, err := mp3.Decode(io.NopCloser(r))
		return s, f, errors.Wrap(err, "decode mp3")
	case containerFLAC:
		s, f, err := flac.Decode(r)
		return s, f, errors.Wrap(err, "decode flac")
	case containerOgg:
		s, f, err := vorbis.Decode(io.NopCloser(r))
		return s, f, errors.Wrap(err, "decode vorbis")
	case containerRawPCM:
		if len(data)%model.BytesPerSample != 0 {
			return nil, beep.Format{}, errors.Errorf("raw pcm length %d is not a whole number of frames", len(data))
		}
		f := beep.Format{SampleRate: beep.SampleRate(rawRate), NumChannels: 1, Precision: 2}
		return &pcmStreamer{data: data}, f, nil
	}
	return nil, beep.Format{}, errors.New("no decoder")
}

// drain reads s to exhaustion, downmixing to mono and quantizing to PCM16 LE.
func drain(s beep.Streamer, hint int) ([]byte, error) {
	out := make([]byte, 0, hint*model.BytesPerSample)
	frames := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(frames)
		for i := 0; i < n; i++ {
			v := quantize((frames[i][0] + frames[i][1]) / 2)
			out = append(out, byte(v), byte(v>>8))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "stream audio")
	}
	return out, nil
}

func quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v*fullScale))))
}

func estimateFrames(inputBytes int, f beep.Format, target beep.SampleRate) int {
	if f.SampleRate <= 0 || f.NumChannels <= 0 || f.Precision <= 0 {
		return 0
	}
	frames := inputBytes / (f.NumChannels * f.Precision)
	return int(float64(frames) * float64(target) / float64(f.SampleRate))
}

// pcmStreamer exposes headerless mono PCM16 LE as a beep stream.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	n := 0
	for n < len(samples) && p.pos+1 < len(p.data) {
		v := float64(int16(uint16(p.data[p.pos])|uint16(p.data[p.pos+1])<<8)) / fullScale
		samples[n][0], samples[n][1] = v, v
		p.pos += model.BytesPerSample
		n++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }

func (p *pcmStreamer) Len() int { return len(p.data) / model.BytesPerSample }

func (p *pcmStreamer) Position() int { return p.pos / model.BytesPerSample }

func (p *pcmStreamer) Seek(frame int) error {
	if frame < 0 || frame > p.Len() {
		return errors.Errorf("seek %d out of range [0, %d]", frame, p.Len())
	}
	p.pos = frame * model.BytesPerSample
	return nil
}

func (p *pcmStreamer) Close() error { return nil }
