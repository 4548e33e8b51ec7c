package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
)

type stubModerator struct {
	mu      sync.Mutex
	calls   []string
	flagged map[string][]string
	err     error
}

func (s *stubModerator) Moderate(ctx context.Context, text string) (model.ModerationVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if s.err != nil {
		return model.ModerationVerdict{}, s.err
	}
	if cats, ok := s.flagged[text]; ok {
		return model.ModerationVerdict{IsSafe: false, Categories: cats}, nil
	}
	return model.ModerationVerdict{IsSafe: true}, nil
}

func fastConfig() Config {
	return Config{
		Retry:       retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		CallTimeout: time.Second,
	}
}

func TestGateCheckAll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		texts     []string
		flagged   map[string][]string
		wantSafe  bool
		wantCats  []string
		wantCalls int
	}{
		{
			name:      "safe",
			texts:     []string{"read a story"},
			wantSafe:  true,
			wantCalls: 1,
		},
		{
			name:      "duplicates checked once",
			texts:     []string{"same", " same ", "same"},
			wantSafe:  true,
			wantCalls: 1,
		},
		{
			name:      "blank skipped",
			texts:     []string{"", "   "},
			wantSafe:  true,
			wantCalls: 0,
		},
		{
			name:      "one flagged payload fails the whole check",
			texts:     []string{"hello", "bad words"},
			flagged:   map[string][]string{"bad words": {"violence", "harassment"}},
			wantSafe:  false,
			wantCats:  []string{"harassment", "violence"},
			wantCalls: 2,
		},
		{
			name:  "categories merged across payloads",
			texts: []string{"a", "b"},
			flagged: map[string][]string{
				"a": {"violence"},
				"b": {"self-harm", "violence"},
			},
			wantSafe:  false,
			wantCats:  []string{"self-harm", "violence"},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stub := &stubModerator{flagged: tt.flagged}
			gate := NewGate(stub, fastConfig(), zap.NewNop().Sugar(), nil)

			got, err := gate.CheckAll(context.Background(), tt.texts...)
			if err != nil {
				t.Fatalf("CheckAll failed: %v", err)
			}
			if got.IsSafe != tt.wantSafe {
				t.Errorf("IsSafe = %v, want %v", got.IsSafe, tt.wantSafe)
			}
			if !reflect.DeepEqual(got.Categories, tt.wantCats) {
				t.Errorf("categories = %v, want %v", got.Categories, tt.wantCats)
			}
			if len(stub.calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(stub.calls), tt.wantCalls)
			}
		})
	}
}

func TestGateFailsClosed(t *testing.T) {
	t.Parallel()

	stub := &stubModerator{err: &retry.StatusError{StatusCode: http.StatusBadGateway}}
	gate := NewGate(stub, fastConfig(), zap.NewNop().Sugar(), nil)

	_, err := gate.Check(context.Background(), "anything")
	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected the service error, got %v", err)
	}
	if len(stub.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(stub.calls))
	}
}

func TestOpenAIModerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/moderations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openai.ModerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q", req.Model)
		}
		flagged := strings.Contains(req.Input, "threat")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "modr-1",
			"model": DefaultModel,
			"results": []map[string]any{{
				"flagged": flagged,
				"categories": map[string]bool{
					"violence":         flagged,
					"harassment":       false,
					"hate/threatening": flagged,
				},
			}},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	mod := NewOpenAIModerator(openai.NewClientWithConfig(cfg), "")

	safe, err := mod.Moderate(context.Background(), "a nice day")
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if !safe.IsSafe || len(safe.Categories) != 0 {
		t.Errorf("expected safe verdict, got %+v", safe)
	}

	bad, err := mod.Moderate(context.Background(), "a threat")
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if bad.IsSafe {
		t.Error("expected unsafe verdict")
	}
	if want := []string{"hate/threatening", "violence"}; !reflect.DeepEqual(bad.Categories, want) {
		t.Errorf("categories = %v, want %v", bad.Categories, want)
	}
}
