// Package config loads service configuration from a YAML or TOML file, a
// .env file and environment variables, in that order of precedence (lowest
// first). Every section validates itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mrsingh-rishi/voice-analysis/scoring"
)

// Transcription providers.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
)

// Config represents the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	OpenAI        OpenAIConfig        `yaml:"openai" toml:"openai"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Deepgram      DeepgramConfig      `yaml:"deepgram" toml:"deepgram"`
	Audio         AudioConfig         `yaml:"audio" toml:"audio"`
	Scoring       scoring.Policy      `yaml:"scoring" toml:"scoring"`
	LLM           LLMConfig           `yaml:"llm" toml:"llm"`
	Store         StoreConfig         `yaml:"store" toml:"store"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq" toml:"rabbitmq"`
	Twilio        TwilioConfig        `yaml:"twilio" toml:"twilio"`
	ElevenLabs    ElevenLabsConfig    `yaml:"elevenlabs" toml:"elevenlabs"`
	Alerts        AlertsConfig        `yaml:"alerts" toml:"alerts"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Address        string        `yaml:"address" toml:"address"`
	JWTSecret      string        `yaml:"jwt_secret" toml:"jwt_secret"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	MaxUploadBytes int           `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
}

// OpenAIConfig covers transcription, moderation and chat completions.
type OpenAIConfig struct {
	APIKey             string        `yaml:"api_key" toml:"api_key"`
	BaseURL            string        `yaml:"base_url" toml:"base_url"`
	ChatModel          string        `yaml:"chat_model" toml:"chat_model"`
	TranscriptionModel string        `yaml:"transcription_model" toml:"transcription_model"`
	ModerationModel    string        `yaml:"moderation_model" toml:"moderation_model"`
	Timeout            time.Duration `yaml:"timeout" toml:"timeout"`
}

// TranscriptionConfig controls chunk fan-out.
type TranscriptionConfig struct {
	Provider      string        `yaml:"provider" toml:"provider"`
	Language      string        `yaml:"language" toml:"language"`
	MaxConcurrent int           `yaml:"max_concurrent" toml:"max_concurrent"`
	MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts"`
	CallTimeout   time.Duration `yaml:"call_timeout" toml:"call_timeout"`
}

// DeepgramConfig is used when the provider is deepgram.
type DeepgramConfig struct {
	APIKey string `yaml:"api_key" toml:"api_key"`
	URL    string `yaml:"url" toml:"url"`
	Model  string `yaml:"model" toml:"model"`
}

// AudioConfig bounds transcription chunks.
type AudioConfig struct {
	MaxChunkBytes   int     `yaml:"max_chunk_bytes" toml:"max_chunk_bytes"`
	MaxChunkSeconds float64 `yaml:"max_chunk_seconds" toml:"max_chunk_seconds"`
}

// LLMConfig tunes completions.
type LLMConfig struct {
	CommandTemperature  float32 `yaml:"command_temperature" toml:"command_temperature"`
	CommandMaxTokens    int     `yaml:"command_max_tokens" toml:"command_max_tokens"`
	FeedbackTemperature float32 `yaml:"feedback_temperature" toml:"feedback_temperature"`
	FeedbackMaxTokens   int     `yaml:"feedback_max_tokens" toml:"feedback_max_tokens"`
}

type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
}

// RabbitMQConfig enables the queue alert sink when URL is set.
type RabbitMQConfig struct {
	URL        string `yaml:"url" toml:"url"`
	AlertQueue string `yaml:"alert_queue" toml:"alert_queue"`
}

// TwilioConfig enables the SMS alert sink when AccountSID is set.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" toml:"account_sid"`
	AuthToken  string `yaml:"auth_token" toml:"auth_token"`
	FromNumber string `yaml:"from_number" toml:"from_number"`
}

// ElevenLabsConfig enables spoken replies when APIKey is set.
type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	VoiceID string `yaml:"voice_id" toml:"voice_id"`
	ModelID string `yaml:"model_id" toml:"model_id"`
}

// AlertsConfig tunes guardian alert delivery.
type AlertsConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" toml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// Default returns a configuration with every optional value filled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":3000",
			ReadTimeout:    30 * time.Second,
			MaxUploadBytes: 100 << 20,
		},
		OpenAI: OpenAIConfig{
			ChatModel:          "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			ModerationModel:    "omni-moderation-latest",
			Timeout:            60 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Provider:      ProviderOpenAI,
			Language:      "en",
			MaxConcurrent: 3,
			MaxAttempts:   3,
			CallTimeout:   60 * time.Second,
		},
		Deepgram: DeepgramConfig{Model: "nova-2"},
		Audio: AudioConfig{
			MaxChunkBytes:   25 << 20,
			MaxChunkSeconds: 30,
		},
		Scoring: scoring.PolicyV1,
		LLM: LLMConfig{
			CommandTemperature:  0.3,
			CommandMaxTokens:    256,
			FeedbackTemperature: 0.2,
			FeedbackMaxTokens:   512,
		},
		Store:    StoreConfig{SQLitePath: "./data/voice.db"},
		RabbitMQ: RabbitMQConfig{AlertQueue: "guardian.alerts"},
		Alerts: AlertsConfig{
			RetryInterval: 30 * time.Second,
			MaxAttempts:   5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the config file at path (if path is
// not empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// decodeFile picks the decoder by extension. Keys missing from the file keep
// their default values.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

// applyEnv lets secrets come from the environment rather than the file.
func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"OPENAI_API_KEY":      &c.OpenAI.APIKey,
		"OPENAI_BASE_URL":     &c.OpenAI.BaseURL,
		"DEEPGRAM_API_KEY":    &c.Deepgram.APIKey,
		"JWT_SECRET":          &c.Server.JWTSecret,
		"RABBITMQ_URL":        &c.RabbitMQ.URL,
		"TWILIO_ACCOUNT_SID":  &c.Twilio.AccountSID,
		"TWILIO_AUTH_TOKEN":   &c.Twilio.AuthToken,
		"TWILIO_FROM_NUMBER":  &c.Twilio.FromNumber,
		"ELEVEN_LABS_API_KEY": &c.ElevenLabs.APIKey,
		"SQLITE_PATH":         &c.Store.SQLitePath,
		"LOG_LEVEL":           &c.Logging.Level,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// Validate performs validation of every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if c.Transcription.Provider == ProviderDeepgram && c.Deepgram.APIKey == "" {
		return fmt.Errorf("deepgram config: api_key is required when provider is deepgram")
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring config: %w", err)
	}
	if c.Twilio.AccountSID != "" && (c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "") {
		return fmt.Errorf("twilio config: auth_token and from_number are required with account_sid")
	}
	if c.ElevenLabs.APIKey != "" && c.ElevenLabs.VoiceID == "" {
		return fmt.Errorf("elevenlabs config: voice_id is required with api_key")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if s.MaxUploadBytes < 1<<20 {
		return fmt.Errorf("max_upload_bytes must be at least 1MB, got %d", s.MaxUploadBytes)
	}
	return nil
}

func (o *OpenAIConfig) Validate() error {
	if o.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if o.ChatModel == "" || o.TranscriptionModel == "" || o.ModerationModel == "" {
		return fmt.Errorf("chat_model, transcription_model and moderation_model cannot be empty")
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	if t.Provider != ProviderOpenAI && t.Provider != ProviderDeepgram {
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderOpenAI, ProviderDeepgram, t.Provider)
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", t.MaxAttempts)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.MaxChunkBytes < 1<<20 {
		return fmt.Errorf("max_chunk_bytes must be at least 1MB, got %d", a.MaxChunkBytes)
	}
	if a.MaxChunkSeconds <= 0 {
		return fmt.Errorf("max_chunk_seconds must be positive, got %f", a.MaxChunkSeconds)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
}
