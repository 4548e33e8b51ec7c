package llm

import (
	"fmt"
	"strings"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

const commandInstructions = `You are a voice assistant for a reading tutor app used by students.
Interpret the user's spoken command and answer with the action to take or a short, friendly reply.
Keep the answer under three sentences and suitable for children.`

const feedbackInstructions = `You are a reading coach. Given a transcript of a student reading aloud,
its reading metrics and the student's learning profile, assess the reading.
Respond with a JSON object only, in this exact shape:
{"level": "beginner" | "intermediate" | "advanced",
 "suggestions": [string, ...],
 "improvement_areas": [string, ...]}
Give at most five suggestions and five improvement areas.`

// CommandMessages builds the prompt for interpreting a spoken command.
// promptContext is appended to the system instructions when set.
func CommandMessages(text, promptContext string) []Message {
	system := commandInstructions
	if pc := strings.TrimSpace(promptContext); pc != "" {
		system += "\n\nContext:\n" + pc
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}
}

// FeedbackMessages builds the prompt for qualitative reading feedback.
func FeedbackMessages(transcript string, m model.ReadingMetrics, profile model.LearningProfile) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcript:\n%s\n\n", transcript)
	fmt.Fprintf(&b, "Metrics:\n- words per minute: %.1f\n- accuracy: %.2f\n- fluency: %.1f/100\n- comprehension: %.1f/100\n",
		m.WPM, m.Accuracy, m.Fluency, m.Comprehension)
	if style := strings.TrimSpace(profile.Style); style != "" {
		fmt.Fprintf(&b, "\nLearning style: %s\n", style)
	}
	return []Message{
		{Role: "system", Content: feedbackInstructions},
		{Role: "user", Content: b.String()},
	}
}
