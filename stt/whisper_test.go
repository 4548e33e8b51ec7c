package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func testChunk() model.AudioChunk {
	return model.AudioChunk{Index: 2, Offset: 0, Data: make([]byte, 3200), SampleRate: model.SampleRate}
}

func TestWhisperPlainText(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("response_format"); got != "text" {
			t.Errorf("response_format = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		if header.Filename != "chunk-0002.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if len(data) != 44+3200 || string(data[:4]) != "RIFF" {
			t.Errorf("upload is not a wav of the chunk: %d bytes", len(data))
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "  the cat sat \n")
	})

	got, err := NewWhisper(client, "").Transcribe(context.Background(), testChunk(), Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got.Text != "the cat sat" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Words != nil {
		t.Errorf("expected no words in plain mode, got %v", got.Words)
	}
}

func TestWhisperVerboseWordConfidence(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "hello there friend",
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.0, "avg_logprob": -0.1},
			},
			"words": []map[string]any{
				{"word": "hello", "start": 0.0, "end": 0.4},
				{"word": " there", "start": 0.5, "end": 0.9},
				{"word": "friend", "start": 1.2, "end": 1.6},
			},
		})
	})

	got, err := NewWhisper(client, openai.Whisper1).Transcribe(context.Background(), testChunk(), Options{Verbose: true})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(got.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(got.Words))
	}
	want := math.Exp(-0.1)
	for _, i := range []int{0, 1} {
		if math.Abs(got.Words[i].Confidence-want) > 1e-9 {
			t.Errorf("word %d confidence = %v, want %v", i, got.Words[i].Confidence, want)
		}
	}
	if got.Words[1].Word != "there" {
		t.Errorf("word not trimmed: %q", got.Words[1].Word)
	}
	if got.Words[2].Confidence != defaultWordConfidence {
		t.Errorf("word outside segments confidence = %v", got.Words[2].Confidence)
	}
}

func TestWhisperServerErrorIsRetryable(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})

	_, err := NewWhisper(client, "").Transcribe(context.Background(), testChunk(), Options{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !retry.Retryable(err) {
		t.Errorf("expected 503 to be retryable: %v", err)
	}
}

func TestWhisperRejectsOddChunk(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	chunk := testChunk()
	chunk.Data = chunk.Data[:11]

	_, err := NewWhisper(client, "").Transcribe(context.Background(), chunk, Options{})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected an encode error, got %v", err)
	}
}
