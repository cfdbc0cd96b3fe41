package adapter

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/zen-systems/council/pkg/transport"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client    *genai.Client
	transport *transport.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(ctx context.Context, apiKey string, tc *transport.Client) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if tc == nil {
		return nil, fmt.Errorf("google requires a transport client")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{
		client:    client,
		transport: tc,
	}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
	}
}

// Query sends the conversation to Gemini.
func (a *GoogleAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	var resp *genai.GenerateContentResponse
	_, err := a.transport.Do(ctx, a.Name(), req.Timeout, func(ctx context.Context) ([]byte, error) {
		var err error
		resp, err = a.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		return nil, sdkError(a.Name(), err)
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return &Response{
			Model:        req.Model,
			Error:        true,
			ErrorMessage: "google returned no candidates",
		}, nil
	}

	var content strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				content.WriteString(part.Text)
			}
		}
	}

	out := &Response{Model: req.Model, Content: content.String()}
	if meta := resp.UsageMetadata; meta != nil {
		out.Usage = normalizeUsage(int(meta.PromptTokenCount), int(meta.CandidatesTokenCount), int(meta.TotalTokenCount))
	}
	return out, nil
}
