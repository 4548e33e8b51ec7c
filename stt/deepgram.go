package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
)

const (
	defaultDeepgramURL = "wss://api.deepgram.com/v1/listen"
	deepgramFrameBytes = 32000 // one second of 16 kHz PCM16
	closeStreamMessage = `{"type":"CloseStream"}`
)

// DeepgramConfig configures the Deepgram listen endpoint.
type DeepgramConfig struct {
	APIKey string
	URL    string
	Model  string
}

// Deepgram transcribes a buffered chunk over Deepgram's listen websocket:
// the whole chunk is written, CloseStream is sent and the finalized results
// are collected until the server closes the connection.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *gws.Dialer
	logger *zap.SugaredLogger
}

// TranscriptionMessage represents a result frame from Deepgram.
type TranscriptionMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewDeepgram creates a Deepgram transcriber.
func NewDeepgram(cfg DeepgramConfig, logger *zap.SugaredLogger) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Deepgram{
		cfg:    cfg,
		dialer: &gws.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

func (dg *Deepgram) endpoint(chunk model.AudioChunk, opts Options) (string, error) {
	u, err := url.Parse(dg.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", dg.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(chunk.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe sends one chunk and waits for Deepgram to flush its results.
func (dg *Deepgram) Transcribe(ctx context.Context, chunk model.AudioChunk, opts Options) (model.TranscriptionResult, error) {
	endpoint, err := dg.endpoint(chunk, opts)
	if err != nil {
		return model.TranscriptionResult{}, err
	}

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", dg.cfg.APIKey)},
	}
	conn, resp, err := dg.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return model.TranscriptionResult{}, &retry.StatusError{StatusCode: resp.StatusCode, Body: resp.Status}
		}
		return model.TranscriptionResult{}, fmt.Errorf("deepgram dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for off := 0; off < len(chunk.Data); off += deepgramFrameBytes {
		end := min(off+deepgramFrameBytes, len(chunk.Data))
		if err := conn.WriteMessage(gws.BinaryMessage, chunk.Data[off:end]); err != nil {
			return model.TranscriptionResult{}, dg.connErr(ctx, "write", err)
		}
	}
	if err := conn.WriteMessage(gws.TextMessage, []byte(closeStreamMessage)); err != nil {
		return model.TranscriptionResult{}, dg.connErr(ctx, "close stream", err)
	}

	result, err := dg.collect(ctx, conn, chunk.Index)
	if err == nil && !opts.Verbose {
		result.Words = nil
	}
	return result, err
}

// collect reads result frames until the server closes the socket.
func (dg *Deepgram) collect(ctx context.Context, conn *gws.Conn, chunkIndex int) (model.TranscriptionResult, error) {
	var (
		texts []string
		words []model.WordTiming
	)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure) {
				break
			}
			return model.TranscriptionResult{}, dg.connErr(ctx, "read", err)
		}

		var msg TranscriptionMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			dg.logger.Warnw("skipping unparseable deepgram frame", "chunk", chunkIndex, "error", err)
			continue
		}
		if msg.Type != "" && msg.Type != "Results" {
			continue
		}
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		alt := msg.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			texts = append(texts, text)
		}
		for _, w := range alt.Words {
			word := w.PunctuatedWord
			if word == "" {
				word = w.Word
			}
			words = append(words, model.WordTiming{
				Word:       word,
				Start:      w.Start,
				End:        w.End,
				Confidence: clamp01(w.Confidence),
			})
		}
	}
	return model.TranscriptionResult{Text: strings.Join(texts, " "), Words: words}, nil
}

func (dg *Deepgram) connErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("deepgram %s: %w", op, ctxErr)
	}
	return fmt.Errorf("deepgram %s: %w", op, err)
}
