package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/council/pkg/transport"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	// DefaultOllamaBaseURL is the local Ollama server.
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// CompatAdapter talks to any OpenAI-compatible chat completions endpoint
// (OpenRouter, DeepSeek, Ollama) through the resilient transport.
type CompatAdapter struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	headers map[string]string
	client  *transport.Client
}

// chatRequest represents the OpenAI-compatible request format.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse represents the OpenAI-compatible response format.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewCompatAdapter creates an adapter for an OpenAI-compatible endpoint.
func NewCompatAdapter(name, baseURL, apiKey string, client *transport.Client, models ...string) (*CompatAdapter, error) {
	if name == "" {
		return nil, fmt.Errorf("adapter name is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if client == nil {
		return nil, fmt.Errorf("%s requires a transport client", name)
	}
	return &CompatAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
		headers: map[string]string{},
		client:  client,
	}, nil
}

// NewOpenRouterAdapter creates the OpenRouter adapter. Model ids are passed
// through unchanged, e.g. "x-ai/grok-3".
func NewOpenRouterAdapter(apiKey string, client *transport.Client) (*CompatAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	a, err := NewCompatAdapter("openrouter", openRouterBaseURL, apiKey, client,
		"openai/gpt-4.1", "google/gemini-2.5-pro", "anthropic/claude-sonnet-4", "x-ai/grok-3")
	if err != nil {
		return nil, err
	}
	a.headers["X-Title"] = "council"
	return a, nil
}

// NewDeepSeekAdapter creates the DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string, client *transport.Client) (*CompatAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	return NewCompatAdapter("deepseek", deepseekBaseURL, apiKey, client,
		"deepseek-chat", "deepseek-reasoner")
}

// NewOllamaAdapter creates an adapter for a local Ollama server.
func NewOllamaAdapter(baseURL string, client *transport.Client) (*CompatAdapter, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return NewCompatAdapter("ollama", strings.TrimRight(baseURL, "/")+"/v1", "", client)
}

// Name returns the adapter identifier.
func (a *CompatAdapter) Name() string {
	return a.name
}

// Models returns the list of known models.
func (a *CompatAdapter) Models() []string {
	return a.models
}

// Query sends the chat request and returns the first choice.
func (a *CompatAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   4096,
	}

	headers := make(map[string]string, len(a.headers)+1)
	for k, v := range a.headers {
		headers[k] = v
	}
	if a.apiKey != "" {
		headers["Authorization"] = "Bearer " + a.apiKey
	}

	raw, err := a.client.PostWithRetry(ctx, a.baseURL+"/chat/completions", body, headers, a.name, req.Timeout)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", a.name, err)
	}

	if parsed.Error != nil {
		return &Response{
			Model:        req.Model,
			Error:        true,
			ErrorMessage: fmt.Sprintf("%s API error: %s (type: %s)", a.name, parsed.Error.Message, parsed.Error.Type),
		}, nil
	}

	if len(parsed.Choices) == 0 {
		return &Response{
			Model:        req.Model,
			Error:        true,
			ErrorMessage: fmt.Sprintf("%s returned no choices", a.name),
		}, nil
	}

	return &Response{
		Model:   req.Model,
		Content: parsed.Choices[0].Message.Content,
		Usage:   normalizeUsage(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, parsed.Usage.TotalTokens),
	}, nil
}
