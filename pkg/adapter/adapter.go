package adapter

import (
	"context"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a single user-role message list.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// Request is a single model call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	// Timeout bounds each attempt; zero uses the transport default.
	Timeout time.Duration
}

// Response is the outcome of a model call. Error is set when the provider
// answered but reported a failure in its payload.
type Response struct {
	Model        string `json:"model"`
	Content      string `json:"content"`
	Error        bool   `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// QueryFunc is the capability the council core uses to reach a model.
type QueryFunc func(ctx context.Context, req Request) (*Response, error)

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Query sends the messages to the model and returns its reply.
	Query(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []string
	Ready  bool
}
