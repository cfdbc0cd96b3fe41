package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zen-systems/council/pkg/transport"
)

// AnthropicAdapter implements the Adapter interface for Claude models.
type AnthropicAdapter struct {
	client    anthropic.Client
	transport *transport.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter. Retries are left to
// the transport so the breaker sees every failure.
func NewAnthropicAdapter(apiKey string, tc *transport.Client, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if tc == nil {
		return nil, fmt.Errorf("anthropic requires a transport client")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := anthropic.NewClient(opts...)
	return &AnthropicAdapter{client: client, transport: tc}, nil
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Models returns the list of supported Claude models.
func (a *AnthropicAdapter) Models() []string {
	return []string{
		"claude-sonnet-4",
		"claude-opus-4",
	}
}

// Query sends the conversation to Claude.
func (a *AnthropicAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(anthropicModelID(req.Model)),
		MaxTokens:   4096,
		Temperature: anthropic.Float(req.Temperature),
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	var resp *anthropic.Message
	_, err := a.transport.Do(ctx, a.Name(), req.Timeout, func(ctx context.Context) ([]byte, error) {
		var err error
		resp, err = a.client.Messages.New(ctx, params)
		return nil, sdkError(a.Name(), err)
	})
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Response{
		Model:   req.Model,
		Content: content.String(),
		Usage:   normalizeUsage(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), 0),
	}, nil
}

// anthropicModelID maps council shorthand onto dated API model ids.
func anthropicModelID(model string) string {
	switch model {
	case "claude-sonnet-4":
		return "claude-sonnet-4-20250514"
	case "claude-opus-4":
		return "claude-opus-4-20250514"
	default:
		return model
	}
}
