// Package tts renders reply text to audio.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"
)

// ElevenLabsConfig configures the ElevenLabs text-to-speech client.
type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
}

type ElevenLabsClient struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
}

func NewElevenLabsClient(cfg ElevenLabsConfig, httpClient *http.Client) (*ElevenLabsClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs API key is required")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ElevenLabsClient{cfg: cfg, httpClient: httpClient}, nil
}

// MimeType reports the content type of synthesized audio.
func (c *ElevenLabsClient) MimeType() string {
	switch {
	case strings.HasPrefix(c.cfg.OutputFormat, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(c.cfg.OutputFormat, "ulaw"):
		return "audio/basic"
	default:
		return "audio/l16"
	}
}

// Synthesize streams the speech for text and returns the concatenated audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s/stream/with-timestamps",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.VoiceID)))
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := base.Query()
	q.Set("output_format", c.cfg.OutputFormat)
	base.RawQuery = q.Encode()

	payload := map[string]any{
		"text":     text,
		"model_id": c.cfg.ModelID,
		"voice_settings": map[string]float64{
			"stability":        0.75,
			"similarity_boost": 0.7,
		},
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	// The body is a sequence of JSON objects, each carrying a base64 audio slice.
	var audio bytes.Buffer
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk struct {
			AudioBase64 string `json:"audio_base64"`
		}
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode JSON chunk: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(chunk.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("decode audio chunk: %w", err)
		}
		audio.Write(raw)
	}
	return audio.Bytes(), nil
}
