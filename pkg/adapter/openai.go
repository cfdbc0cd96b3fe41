package adapter

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zen-systems/council/pkg/transport"
)

// OpenAIAdapter implements the Adapter interface for OpenAI models.
type OpenAIAdapter struct {
	client    openai.Client
	transport *transport.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string, tc *transport.Client, opts ...option.RequestOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if tc == nil {
		return nil, fmt.Errorf("openai requires a transport client")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIAdapter{client: client, transport: tc}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (a *OpenAIAdapter) Models() []string {
	return []string{
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-4o",
	}
}

// Query sends the conversation to OpenAI.
func (a *OpenAIAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            messages,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(4096),
	}

	var resp *openai.ChatCompletion
	_, err := a.transport.Do(ctx, a.Name(), req.Timeout, func(ctx context.Context) ([]byte, error) {
		var err error
		resp, err = a.client.Chat.Completions.New(ctx, params)
		return nil, sdkError(a.Name(), err)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return &Response{
			Model:        req.Model,
			Error:        true,
			ErrorMessage: "openai returned no choices",
		}, nil
	}

	return &Response{
		Model:   req.Model,
		Content: resp.Choices[0].Message.Content,
		Usage:   normalizeUsage(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), int(resp.Usage.TotalTokens)),
	}, nil
}
