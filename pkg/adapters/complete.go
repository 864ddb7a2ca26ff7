package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaiopt "github.com/openai/openai-go/v3/option"
)

// Completer produces a free-form reply from a system prompt and user text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// --- OpenAI ---

// OpenAICompleter is the default completion provider.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates an OpenAI-backed completer.
func NewOpenAICompleter(apiKey, model string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	return &OpenAICompleter{
		client: openai.NewClient(openaiopt.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// --- Anthropic ---

// AnthropicCompleter is the alternate completion provider.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates an Anthropic-backed completer.
func NewAnthropicCompleter(apiKey, model string) (*AnthropicCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	return &AnthropicCompleter{
		client: anthropic.NewClient(anthropicopt.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("anthropic message had no text content")
}

var (
	_ Completer = (*OpenAICompleter)(nil)
	_ Completer = (*AnthropicCompleter)(nil)
)
