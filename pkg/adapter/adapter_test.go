package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/council/pkg/breaker"
	"github.com/zen-systems/council/pkg/transport"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTransport(br *breaker.Breaker) *transport.Client {
	if br == nil {
		br = breaker.New(breaker.DefaultConfig())
	}
	return transport.New(br, transport.DefaultConfig(), transport.WithSleeper(noSleep))
}

func TestCompatAdapterQuery(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"c1","model":"x-ai/grok-3","choices":[{"index":0,"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	a, err := NewCompatAdapter("openrouter", srv.URL+"/v1/", "key", newTransport(nil))
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), Request{
		Model:       "x-ai/grok-3",
		Messages:    UserMessage("capital of France?"),
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Content)
	assert.False(t, resp.Error)
	assert.Equal(t, &Usage{PromptTokens: 7, CompletionTokens: 1, TotalTokens: 8}, resp.Usage)

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, "x-ai/grok-3", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
}

func TestCompatAdapterInBandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	a, err := NewCompatAdapter("openrouter", srv.URL, "key", newTransport(nil))
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), Request{Model: "m", Messages: UserMessage("q")})
	require.NoError(t, err)
	assert.True(t, resp.Error)
	assert.Contains(t, resp.ErrorMessage, "model overloaded")
}

func TestCompatAdapterNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	a, err := NewCompatAdapter("deepseek", srv.URL, "key", newTransport(nil))
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), Request{Model: "deepseek-chat", Messages: UserMessage("q")})
	require.NoError(t, err)
	assert.True(t, resp.Error)
	assert.Contains(t, resp.ErrorMessage, "no choices")
}

func TestCompatAdapterServerErrorsTripBreakerCount(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	br := breaker.New(breaker.DefaultConfig())
	a, err := NewCompatAdapter("ollama", srv.URL, "", newTransport(br))
	require.NoError(t, err)

	_, err = a.Query(context.Background(), Request{Model: "llama3", Messages: UserMessage("q")})
	var exhausted *transport.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, br.Failures("ollama"))
}

func TestCompatConstructorsValidate(t *testing.T) {
	tc := newTransport(nil)

	_, err := NewOpenRouterAdapter("", tc)
	assert.Error(t, err)
	_, err = NewDeepSeekAdapter("", tc)
	assert.Error(t, err)
	_, err = NewCompatAdapter("x", "http://localhost", "", nil)
	assert.Error(t, err)

	ollama, err := NewOllamaAdapter("", tc)
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaBaseURL+"/v1", ollama.baseURL)

	or, err := NewOpenRouterAdapter("k", tc)
	require.NoError(t, err)
	assert.Equal(t, "openrouter", or.Name())
	assert.Contains(t, or.Models(), "x-ai/grok-3")
}

func TestOpenAIAdapterThroughTransport(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4.1","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	a, err := NewOpenAIAdapter("k", newTransport(nil), openaioption.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), Request{
		Model: "gpt-4.1",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4.1", body["model"])
	assert.Len(t, body["messages"], 2)
}

func TestOpenAIAdapterClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	br := breaker.New(breaker.DefaultConfig())
	a, err := NewOpenAIAdapter("k", newTransport(br), openaioption.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	_, err = a.Query(context.Background(), Request{Model: "gpt-4.1", Messages: UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, transport.StatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, br.Failures("openai"))
}

func TestAnthropicAdapterThroughTransport(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"bonjour"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`)
	}))
	defer srv.Close()

	a, err := NewAnthropicAdapter("k", newTransport(nil), anthropicoption.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	resp, err := a.Query(context.Background(), Request{
		Model: "claude-sonnet-4",
		Messages: []Message{
			{Role: RoleSystem, Content: "reply in French"},
			{Role: RoleUser, Content: "hello"},
		},
		Temperature: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp.Content)
	assert.Equal(t, "claude-sonnet-4", resp.Model)
	assert.Equal(t, &Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, resp.Usage)
	assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
	assert.NotNil(t, body["system"])
}

func TestSDKConstructorsRequireKeys(t *testing.T) {
	tc := newTransport(nil)
	_, err := NewAnthropicAdapter("", tc)
	assert.Error(t, err)
	_, err = NewOpenAIAdapter("", tc)
	assert.Error(t, err)
	_, err = NewGoogleAdapter(context.Background(), "", tc)
	assert.Error(t, err)
	_, err = NewOpenAIAdapter("k", nil)
	assert.Error(t, err)
}

func TestSDKErrorPassesThroughStatus(t *testing.T) {
	assert.NoError(t, sdkError("p", nil))

	err := sdkError("p", errors.New("dial tcp: connection refused"))
	assert.Contains(t, err.Error(), "p API error")
	assert.Equal(t, 0, transport.StatusCode(err))

	err = sdkError("p", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockAdapter(t *testing.T) {
	m := NewMockAdapterWithResponses(map[string]string{"a": "alpha"}, "")
	m.SetError("b", errors.New("boom"))
	m.SetFailedResponse("c", "refused")

	resp, err := m.Query(context.Background(), Request{Model: "a", Messages: UserMessage("q")})
	require.NoError(t, err)
	assert.Equal(t, "alpha", resp.Content)

	_, err = m.Query(context.Background(), Request{Model: "b", Messages: UserMessage("q")})
	assert.EqualError(t, err, "boom")

	resp, err = m.Query(context.Background(), Request{Model: "c", Messages: UserMessage("q")})
	require.NoError(t, err)
	assert.True(t, resp.Error)
	assert.Equal(t, "refused", resp.ErrorMessage)

	resp, err = m.Query(context.Background(), Request{Model: "z", Messages: UserMessage("question")})
	require.NoError(t, err)
	assert.Equal(t, "mock response:\nquestion", resp.Content)

	assert.Len(t, m.Calls(), 4)
}

func TestMockAdapterDelayHonorsContext(t *testing.T) {
	m := NewMockAdapter()
	m.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Query(ctx, Request{Model: "mock-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryRouting(t *testing.T) {
	direct := NewMockAdapterWithResponses(map[string]string{"fast": "direct"}, "")
	fallback := &namedMock{name: "openrouter", MockAdapter: NewMockAdapterWithResponses(map[string]string{"x-ai/grok-3": "routed"}, "")}

	r := NewRegistry(nil)
	r.Register(direct)
	r.SetFallback(fallback)

	resp, err := r.Query(context.Background(), Request{Model: "mock/fast"})
	require.NoError(t, err)
	assert.Equal(t, "direct", resp.Content)
	assert.Equal(t, "mock/fast", resp.Model)
	assert.Equal(t, "fast", direct.Calls()[0].Model)

	resp, err = r.QueryFunc()(context.Background(), Request{Model: "x-ai/grok-3"})
	require.NoError(t, err)
	assert.Equal(t, "routed", resp.Content)
	assert.Equal(t, "x-ai/grok-3", fallback.Calls()[0].Model)

	infos := r.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "mock", infos[0].Name)
	assert.Equal(t, "openrouter", infos[1].Name)
}

func TestRegistryWithoutFallback(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Query(context.Background(), Request{Model: "unknown/model"})
	assert.Error(t, err)
	_, _, err = r.Resolve("")
	assert.Error(t, err)
}

func TestAddUsage(t *testing.T) {
	assert.Nil(t, AddUsage(nil, nil))
	sum := AddUsage(&Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, nil)
	assert.Equal(t, 3, sum.TotalTokens)
	sum = AddUsage(sum, &Usage{PromptTokens: 1, TotalTokens: 1})
	assert.Equal(t, &Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}, sum)
	assert.Nil(t, normalizeUsage(0, 0, 0))
}

func TestRegistryRejectsNilResponse(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(nilAdapter{})

	resp, err := r.Query(context.Background(), Request{Model: "empty/model"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "no response")
}

// nilAdapter returns neither a response nor an error.
type nilAdapter struct{}

func (nilAdapter) Query(context.Context, Request) (*Response, error) { return nil, nil }
func (nilAdapter) Name() string { return "empty" }
func (nilAdapter) Models() []string { return nil }

type namedMock struct {
	name string
	*MockAdapter
}

func (n *namedMock) Name() string { return n.name }
