package cmd

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/mrsingh-rishi/voice-analysis/config"
	"github.com/mrsingh-rishi/voice-analysis/model"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if logger.Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}

	if _, err := newLogger(config.LoggingConfig{Level: "shout"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestCLIPrincipal(t *testing.T) {
	userID, parentID = "kid", "mom"
	t.Cleanup(func() { userID, parentID = "cli", "" })

	if p := cliPrincipal(); !p.IsDependent() || p.ParentID != "mom" {
		t.Errorf("principal = %+v", p)
	}
	parentID = ""
	if p := cliPrincipal(); p.Role != model.RoleGuardian {
		t.Errorf("principal = %+v", p)
	}
}

func TestNewApp(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Server.JWTSecret = "secret"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "voice.db")

	a, err := newApp(cfg, zaptest.NewLogger(t).Sugar(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.close()

	if a.service == nil || a.store == nil || a.alerts == nil {
		t.Fatalf("incomplete app %+v", a)
	}
}

func TestNewAppRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Transcription.Provider = "carrier-pigeon"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "voice.db")

	if _, err := newApp(cfg, zaptest.NewLogger(t).Sugar(), prometheus.NewRegistry()); err == nil {
		t.Fatal("expected an error")
	}
}
