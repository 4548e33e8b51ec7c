package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	path := writeFile(t, "config.yaml", `
server:
  address: ":8080"
  jwt_secret: "file-secret"
  read_timeout: 45s
transcription:
  max_concurrent: 5
scoring:
  version: v1
  baseline_wpm: 140
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Transcription.MaxConcurrent != 5 || cfg.Transcription.MaxAttempts != 3 {
		t.Errorf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Scoring.BaselineWPM != 140 || cfg.Scoring.FluencyPaceWeight != 50 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env override", cfg.OpenAI.APIKey)
	}
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("JWT_SECRET", "env-secret")
	path := writeFile(t, "config.toml", `
[server]
jwt_secret = "file-secret"

[transcription]
provider = "deepgram"
call_timeout = "20s"

[deepgram]
api_key = "dg-key"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q, env must win", cfg.Server.JWTSecret)
	}
	if cfg.Transcription.Provider != ProviderDeepgram || cfg.Transcription.CallTimeout != 20*time.Second {
		t.Errorf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Deepgram.Model != "nova-2" {
		t.Errorf("deepgram model default lost: %q", cfg.Deepgram.Model)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scoring.Version != "v1" || cfg.OpenAI.ModerationModel != "omni-moderation-latest" {
		t.Errorf("defaults missing: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("JWT_SECRET", "env-secret")

	tests := []struct {
		name     string
		file     string
		content  string
		errorMsg string
	}{
		{"unknown extension", "config.ini", "x=1", "unsupported config format"},
		{"bad yaml", "config.yaml", "server: [", "failed to parse"},
		{"bad provider", "config.yaml", "transcription:\n  provider: whisperx\n", "provider must be"},
		{"deepgram without key", "config.yaml", "transcription:\n  provider: deepgram\n", "deepgram config"},
		{"negative weight", "config.yaml", "scoring:\n  fluency_pace_weight: -1\n", "must not be negative"},
		{"zero baseline", "config.yaml", "scoring:\n  baseline_wpm: 0\n", "baseline_wpm"},
		{"twilio incomplete", "config.yaml", "twilio:\n  account_sid: AC123\n", "twilio config"},
		{"bad log level", "config.yaml", "logging:\n  level: loud\n", "logging config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errorMsg)
			}
		})
	}
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("expected jwt_secret error, got %v", err)
	}
	cfg.Server.JWTSecret = "s"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected api_key error, got %v", err)
	}
	cfg.OpenAI.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
