// Package moderation gates transcripts and generated text through an
// external classification service before anything reaches the user.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/metrics"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/retry"
)

// DefaultModel is the OpenAI moderation model used when none is configured.
const DefaultModel = "omni-moderation-latest"

// Moderator classifies one text payload.
type Moderator interface {
	Moderate(ctx context.Context, text string) (model.ModerationVerdict, error)
}

// OpenAIModerator classifies text with the OpenAI moderation endpoint.
type OpenAIModerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIModerator(client *openai.Client, modelName string) *OpenAIModerator {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &OpenAIModerator{client: client, model: modelName}
}

func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (model.ModerationVerdict, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: m.model,
	})
	if err != nil {
		return model.ModerationVerdict{}, err
	}
	if len(resp.Results) == 0 {
		return model.ModerationVerdict{}, fmt.Errorf("moderation response has no results")
	}

	verdict := model.ModerationVerdict{IsSafe: true}
	for _, r := range resp.Results {
		labels, err := flaggedLabels(r.Categories)
		if err != nil {
			return model.ModerationVerdict{}, err
		}
		if r.Flagged || len(labels) > 0 {
			verdict.IsSafe = false
		}
		verdict.Categories = mergeLabels(verdict.Categories, labels)
	}
	return verdict, nil
}

// flaggedLabels lists the JSON names of the categories set to true, so the
// labels match what the service reports ("self-harm", "hate/threatening").
func flaggedLabels(categories openai.ResultCategories) ([]string, error) {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode moderation categories: %w", err)
	}
	var byName map[string]bool
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("decode moderation categories: %w", err)
	}
	var labels []string
	for name, flagged := range byName {
		if flagged {
			labels = append(labels, name)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// Config bounds moderation calls.
type Config struct {
	Retry       retry.Policy
	CallTimeout time.Duration
}

// Gate is the mandatory safety check in front of every user-visible text.
type Gate struct {
	moderator Moderator
	cfg       Config
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
}

// NewGate wraps moderator with retries and per-call timeouts. m may be nil.
func NewGate(moderator Moderator, cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Gate {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Gate{moderator: moderator, cfg: cfg, logger: logger, metrics: m}
}

// Check classifies a single payload.
func (g *Gate) Check(ctx context.Context, text string) (model.ModerationVerdict, error) {
	return g.CheckAll(ctx, text)
}

// CheckAll classifies each distinct non-blank payload once and merges the
// verdicts: the result is safe only when every payload is safe. Blank input
// is safe without a call.
func (g *Gate) CheckAll(ctx context.Context, texts ...string) (model.ModerationVerdict, error) {
	seen := make(map[string]struct{}, len(texts))
	verdict := model.ModerationVerdict{IsSafe: true}

	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		v, err := g.moderate(ctx, text)
		if err != nil {
			return model.ModerationVerdict{}, err
		}
		if !v.IsSafe {
			verdict.IsSafe = false
			verdict.Categories = mergeLabels(verdict.Categories, v.Categories)
		}
	}

	g.metrics.ObserveModeration(verdict.Categories)
	if !verdict.IsSafe {
		g.logger.Warnw("content flagged by moderation",
			"requestID", model.RequestID(ctx),
			"categories", verdict.Categories,
		)
	}
	return verdict, nil
}

func (g *Gate) moderate(ctx context.Context, text string) (model.ModerationVerdict, error) {
	var verdict model.ModerationVerdict
	attempts, err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		var err error
		verdict, err = g.moderator.Moderate(callCtx, text)
		return err
	})
	if err != nil {
		g.logger.Errorw("moderation check failed",
			"requestID", model.RequestID(ctx),
			"attempts", attempts,
			"error", err,
		)
		return model.ModerationVerdict{}, fmt.Errorf("moderation check: %w", err)
	}
	if verdict.IsSafe {
		verdict.Categories = nil
	}
	return verdict, nil
}

// mergeLabels returns the sorted union of a and b.
func mergeLabels(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, l := range a {
		set[l] = struct{}{}
	}
	for _, l := range b {
		set[l] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
