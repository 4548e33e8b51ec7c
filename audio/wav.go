package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// wavHeader is the canonical 44-byte RIFF header for mono PCM16.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps mono PCM16 LE bytes in a WAV container so that services
// which sniff the container (Whisper) can decode a chunk.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%model.BytesPerSample != 0 {
		return nil, errors.Errorf("pcm length %d is not a whole number of frames", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, errors.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   model.Channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * model.Channels * model.BytesPerSample),
		BlockAlign:    model.Channels * model.BytesPerSample,
		BitsPerSample: 8 * model.BytesPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, errors.Wrap(err, "write wav header")
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
