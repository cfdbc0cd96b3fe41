// Package transport issues provider requests with per-attempt timeouts,
// bounded retries and circuit-breaker gating.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zen-systems/council/pkg/breaker"
	"github.com/zen-systems/council/pkg/metrics"
)

const maxErrorBody = 2048

// Config defines retry and backoff behavior.
type Config struct {
	// MaxRetries bounds the total number of attempts, 429 retries included.
	MaxRetries int
	// BackoffFactor is raised to the attempt index to get the wait in seconds.
	BackoffFactor float64
	// Timeout applies to a single attempt when the caller passes none.
	Timeout time.Duration
	// RateLimitBackoff is the fixed wait after a 429.
	RateLimitBackoff time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BackoffFactor:    2,
		Timeout:          60 * time.Second,
		RateLimitBackoff: 60 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptFunc performs one try and returns the raw response body. Non-2xx
// outcomes must be reported as *StatusError so they are classified.
type AttemptFunc func(ctx context.Context) ([]byte, error)

// Client is the only component in the council that performs provider I/O.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	sleep      SleepFunc
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports outcomes and retries to the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRateLimit paces attempts to provider to rps requests per second.
func WithRateLimit(provider string, rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiters[provider] = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client gated by br. The breaker is shared with every other
// client that talks to the same providers.
func New(br *breaker.Breaker, cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if br == nil {
		br = breaker.New(breaker.DefaultConfig())
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    br,
		sleep:      sleepWithContext,
		logger:     zap.NewNop(),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "transport"))
	return c
}

// Breaker returns the breaker gating this client.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// Config returns the retry policy in effect.
func (c *Client) Config() Config {
	return c.cfg
}

// PostWithRetry POSTs payload as JSON to endpoint and returns the JSON
// response body. A zero timeout uses the configured per-attempt timeout.
func (c *Client) PostWithRetry(
	ctx context.Context,
	endpoint string,
	payload any,
	headers map[string]string,
	provider string,
	timeout time.Duration,
) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.Do(ctx, provider, timeout, func(ctx context.Context) ([]byte, error) {
		data, err := c.postOnce(ctx, endpoint, body, headers)
		if err != nil {
			return nil, err
		}
		// An undecodable 2xx body is retried like a network failure.
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s returned a non-JSON body", provider)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Do runs attempt under the retry and breaker policy. It is the entry point
// for SDK-backed adapters that do not speak raw HTTP through this client.
func (c *Client) Do(ctx context.Context, provider string, timeout time.Duration, attempt AttemptFunc) ([]byte, error) {
	if c.breaker.IsOpen(provider) {
		c.metrics.IncProviderRequest(provider, "circuit_open")
		return nil, &CircuitOpenError{Provider: provider}
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	var lastErr error
	for i := 0; i < c.cfg.MaxRetries; i++ {
		if err := c.wait(ctx, provider); err != nil {
			return nil, fmt.Errorf("request to %s cancelled: %w", provider, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := attempt(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess(provider)
			c.metrics.IncProviderRequest(provider, "success")
			return data, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.IncProviderRequest(provider, "cancelled")
			return nil, fmt.Errorf("request to %s cancelled: %w", provider, ctxErr)
		}

		final := i == c.cfg.MaxRetries-1
		class := classify(err)

		switch class {
		case classRateLimited:
			c.logger.Warn("rate limited",
				zap.String("provider", provider),
				zap.Int("attempt", i+1),
				zap.Duration("wait", c.cfg.RateLimitBackoff),
			)
			c.metrics.IncRetry(provider, class.String())
			if err := c.sleep(ctx, c.cfg.RateLimitBackoff); err != nil {
				return nil, fmt.Errorf("request to %s cancelled: %w", provider, err)
			}
			continue

		case classFatal:
			c.logger.Error("provider rejected request",
				zap.String("provider", provider),
				zap.Int("status", StatusCode(err)),
			)
			c.breaker.RecordFailure(provider)
			c.metrics.IncProviderRequest(provider, "failure")
			return nil, err
		}

		if final {
			c.logger.Error("provider failed",
				zap.String("provider", provider),
				zap.String("reason", class.String()),
				zap.Int("attempts", c.cfg.MaxRetries),
				zap.Error(err),
			)
			c.breaker.RecordFailure(provider)
			c.metrics.IncProviderRequest(provider, "failure")
			return nil, &ExhaustedError{Provider: provider, Attempts: c.cfg.MaxRetries, Last: err}
		}

		wait := c.backoff(i)
		c.logger.Warn("retrying provider request",
			zap.String("provider", provider),
			zap.String("reason", class.String()),
			zap.Int("attempt", i+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		c.metrics.IncRetry(provider, class.String())
		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("request to %s cancelled: %w", provider, err)
		}
	}

	c.metrics.IncProviderRequest(provider, "exhausted")
	return nil, &ExhaustedError{Provider: provider, Attempts: c.cfg.MaxRetries, Last: lastErr}
}

func (c *Client) postOnce(ctx context.Context, endpoint string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func (c *Client) wait(ctx context.Context, provider string) error {
	c.mu.Lock()
	limiter := c.limiters[provider]
	c.mu.Unlock()
	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// backoff returns BackoffFactor^attempt seconds: 1s, 2s, 4s for factor 2.
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(c.cfg.BackoffFactor, float64(attempt)) * float64(time.Second))
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
