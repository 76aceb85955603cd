package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI is a Provider backed by the chat completions API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(apiKey, model string, maxTokens int) *OpenAI {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

var _ Provider = (*OpenAI)(nil)

func (o *OpenAI) Name() string { return "openai" }

// Complete sends the conversation and returns the first choice's text.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		MaxCompletionTokens: openai.Int(int64(o.maxTokens)),
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: openai complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: openai complete: no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("llm: openai complete: empty reply")
	}
	return text, nil
}
