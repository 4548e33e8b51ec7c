// Package llm wraps chat completions: command interpretation with a
// confidence signal and structured reading feedback.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4oMini

// Message is one role-tagged chat message.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks for a JSON object response.
	JSON bool
	// LogProbs asks for the top token's log-probability.
	LogProbs bool
}

// Completion is the first choice of a completion. TopLogProb is nil when
// the service did not return log-probabilities.
type Completion struct {
	Content    string
	TopLogProb *float64
}

//go:generate mockgen -destination=../mocks/mock_llm.go -package=mocks github.com/mrsingh-rishi/voice-analysis/llm Completer

// Completer produces one completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// OpenAIClient completes chats with the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(client *openai.Client, model string) *OpenAIClient {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{client: client, model: model}
}

// Complete sends the messages and returns the trimmed content of the first
// choice. An empty content is not an error here.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.LogProbs {
		chatReq.LogProbs = true
		chatReq.TopLogProbs = 1
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, nil
	}

	choice := resp.Choices[0]
	out := Completion{Content: strings.TrimSpace(choice.Message.Content)}
	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		first := choice.LogProbs.Content[0]
		lp := first.LogProb
		if len(first.TopLogProbs) > 0 {
			lp = first.TopLogProbs[0].LogProb
		}
		out.TopLogProb = &lp
	}
	return out, nil
}
