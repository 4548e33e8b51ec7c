// Package call runs a buffered audio upload over a websocket. The client
// streams a recording as base64 media events and the whole buffer is analyzed
// once it sends stop; nothing is transcribed while audio is still arriving.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/voice"
)

// Session modes selected by the start event.
const (
	ModeReading       = "reading"
	ModeTranscription = "transcription"
)

// DefaultMaxBytes caps one buffered upload.
const DefaultMaxBytes = 100 << 20

// clientEvent is one frame sent by the client.
type clientEvent struct {
	Event string `json:"event"` // "start", "media", "stop"
	Start struct {
		Mode     string `json:"mode"`
		MimeType string `json:"mimeType"`
		Filename string `json:"filename"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"` // base64 audio
	} `json:"media"`
}

// ServerEvent is one frame sent back to the client.
type ServerEvent struct {
	Event    string                 `json:"event"` // "ready", "result", "error"
	Mode     string                 `json:"mode,omitempty"`
	Reading  *model.ReadingAnalysis `json:"reading,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Received int                    `json:"received,omitempty"`
}

// Conn is the part of a websocket connection a Session uses.
// *websocket.Conn from gofiber satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
}

// Analyzer runs the pipeline on a finished upload.
type Analyzer interface {
	AnalyzeReading(ctx context.Context, p model.Principal, buf model.AudioBuffer) (model.ReadingAnalysis, error)
	Transcribe(ctx context.Context, p model.Principal, buf model.AudioBuffer) (string, error)
}

var (
	errNotStarted  = errors.New("media received before start")
	errTooLarge    = errors.New("upload exceeds size limit")
	errUnknownMode = errors.New("unknown session mode")
)

// Session is one upload from one principal.
type Session struct {
	ws        Conn
	principal model.Principal
	analyzer  Analyzer
	maxBytes  int
	logger    *zap.SugaredLogger

	mode    string
	buf     model.AudioBuffer
	started bool
}

func NewSession(ws Conn, p model.Principal, analyzer Analyzer, maxBytes int, logger *zap.SugaredLogger) *Session {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Session{
		ws:        ws,
		principal: p,
		analyzer:  analyzer,
		maxBytes:  maxBytes,
		logger:    logger.With("userID", p.UserID),
	}
}

// Run reads events until stop, a protocol error or the connection closes.
// One upload is analyzed per session. The analysis is cancelled if the client
// disconnects before the result is written.
func (s *Session) Run(ctx context.Context) {
	for {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("upload connection closed", "received", len(s.buf.Data))
			} else {
				s.logger.Warnw("upload read failed", "error", err)
			}
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.logger.Warnw("malformed upload event", "error", err)
			s.fail("malformed_event")
			continue
		}

		switch ev.Event {
		case "start":
			if err := s.start(ev); err != nil {
				s.fail(err.Error())
				return
			}
			s.send(ServerEvent{Event: "ready", Mode: s.mode})

		case "media":
			if err := s.append(ev.Media.Payload); err != nil {
				s.logger.Warnw("upload rejected", "received", len(s.buf.Data), "error", err)
				s.fail(err.Error())
				return
			}

		case "stop":
			if !s.started {
				s.fail(errNotStarted.Error())
				return
			}
			s.finish(ctx)
			return

		default:
			s.logger.Warnw("unknown upload event", "event", ev.Event)
		}
	}
}

func (s *Session) start(ev clientEvent) error {
	mode := ev.Start.Mode
	if mode == "" {
		mode = ModeReading
	}
	if mode != ModeReading && mode != ModeTranscription {
		return errUnknownMode
	}
	s.mode = mode
	s.buf = model.AudioBuffer{MimeType: ev.Start.MimeType, Filename: ev.Start.Filename}
	s.started = true
	s.logger.Infow("upload started", "mode", mode, "mimeType", ev.Start.MimeType)
	return nil
}

func (s *Session) append(payload string) error {
	if !s.started {
		return errNotStarted
	}
	chunk, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("invalid media payload: %w", err)
	}
	if len(s.buf.Data)+len(chunk) > s.maxBytes {
		return errTooLarge
	}
	s.buf.Data = append(s.buf.Data, chunk...)
	return nil
}

func (s *Session) finish(ctx context.Context) {
	s.logger.Infow("upload complete", "mode", s.mode, "received", len(s.buf.Data))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watch(cancel)

	var ev ServerEvent
	switch s.mode {
	case ModeTranscription:
		text, err := s.analyzer.Transcribe(ctx, s.principal, s.buf)
		if err != nil {
			s.abort(ctx, err)
			return
		}
		ev = ServerEvent{Event: "result", Mode: s.mode, Text: text, Received: len(s.buf.Data)}
	default:
		analysis, err := s.analyzer.AnalyzeReading(ctx, s.principal, s.buf)
		if err != nil {
			s.abort(ctx, err)
			return
		}
		ev = ServerEvent{Event: "result", Mode: s.mode, Reading: &analysis, Received: len(s.buf.Data)}
	}
	s.send(ev)
}

// watch owns the read side once stop has been received. Anything the client
// sends is discarded; a read error or close frame cancels the analysis.
func (s *Session) watch(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Session) abort(ctx context.Context, err error) {
	if ctx.Err() != nil {
		s.logger.Infow("analysis cancelled", "mode", s.mode, "error", err)
		return
	}
	s.fail(voice.Outcome(err))
}

func (s *Session) fail(reason string) {
	s.send(ServerEvent{Event: "error", Error: reason})
}

func (s *Session) send(ev ServerEvent) {
	if err := s.ws.WriteJSON(ev); err != nil {
		s.logger.Warnw("failed to write upload event", "event", ev.Event, "error", err)
	}
}
