package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	errors          map[string]error
	failed          map[string]string
	delay           time.Duration
	defaultResponse string
	calls           []Request
	Usage           *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return NewMockAdapterWithResponses(nil, "")
}

// NewMockAdapterWithResponses creates a mock adapter with predefined
// responses keyed by model id.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{
		responses:       responses,
		errors:          make(map[string]error),
		failed:          make(map[string]string),
		defaultResponse: defaultResponse,
	}
}

// SetResponse fixes the reply for model.
func (a *MockAdapter) SetResponse(model, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[model] = content
}

// SetError makes every call to model return err.
func (a *MockAdapter) SetError(model string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[model] = err
}

// SetFailedResponse makes model answer with an in-band error payload.
func (a *MockAdapter) SetFailedResponse(model, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[model] = message
}

// SetDelay holds each call for d or until the context is done.
func (a *MockAdapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Calls returns a copy of the requests seen so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Query returns the configured reply for the model, or the default response
// followed by the last message.
func (a *MockAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	delay := a.delay
	content, hasContent := a.responses[req.Model]
	err := a.errors[req.Model]
	failure, hasFailure := a.failed[req.Model]
	usage := a.Usage
	a.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err != nil {
		return nil, err
	}
	if hasFailure {
		return &Response{Model: req.Model, Error: true, ErrorMessage: failure}, nil
	}
	if !hasContent {
		var prompt string
		if n := len(req.Messages); n > 0 {
			prompt = req.Messages[n-1].Content
		}
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	}
	return &Response{Model: req.Model, Content: content, Usage: usage}, nil
}
