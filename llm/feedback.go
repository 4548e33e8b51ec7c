package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

const maxFeedbackItems = 5

var feedbackLevels = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
}

type feedbackPayload struct {
	Level            *string   `json:"level"`
	Suggestions      *[]string `json:"suggestions"`
	ImprovementAreas *[]string `json:"improvement_areas"`
}

// DecodeFeedback validates a feedback completion against the expected
// shape. Models sometimes wrap JSON in a markdown fence; that is stripped.
func DecodeFeedback(content string) (model.ReadingFeedback, error) {
	content = stripFence(content)
	if content == "" {
		return model.ReadingFeedback{}, fmt.Errorf("empty feedback")
	}

	var p feedbackPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return model.ReadingFeedback{}, fmt.Errorf("decode feedback: %w", err)
	}
	if p.Level == nil || p.Suggestions == nil || p.ImprovementAreas == nil {
		return model.ReadingFeedback{}, fmt.Errorf("feedback is missing required fields")
	}
	level := strings.ToLower(strings.TrimSpace(*p.Level))
	if !feedbackLevels[level] {
		return model.ReadingFeedback{}, fmt.Errorf("unknown feedback level %q", *p.Level)
	}

	return model.ReadingFeedback{
		Level:            level,
		Suggestions:      cleanItems(*p.Suggestions),
		ImprovementAreas: cleanItems(*p.ImprovementAreas),
	}, nil
}

// FallbackFeedback is returned when the feedback completion is unusable.
func FallbackFeedback() model.ReadingFeedback {
	return model.ReadingFeedback{Suggestions: []string{}, ImprovementAreas: []string{}}
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
		if len(out) == maxFeedbackItems {
			break
		}
	}
	return out
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
