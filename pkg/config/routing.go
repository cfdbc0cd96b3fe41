package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default council settings.
var (
	DefaultCouncilModels = []string{
		"openai/gpt-4.1",
		"google/gemini-2.5-pro",
		"anthropic/claude-sonnet-4",
		"x-ai/grok-3",
	}
	DefaultChairmanModel = "google/gemini-2.5-pro"
)

const (
	defaultTemperature         = 0.5
	defaultStrategy            = "simple"
	defaultRounds              = 2
	defaultConfidenceThreshold = 0.7
)

// RoutingConfig decides how queries are classified and which models answer.
type RoutingConfig struct {
	CouncilModels      []string             `yaml:"council_models,omitempty"`
	ChairmanModel      string               `yaml:"chairman_model,omitempty"`
	CouncilTemperature *float64             `yaml:"council_temperature,omitempty"`
	DefaultStrategy    string               `yaml:"default_strategy,omitempty"`
	MultiRoundRounds   int                  `yaml:"multi_round_rounds,omitempty"`
	Classification     ClassificationConfig `yaml:"classification,omitempty"`
	Retry              RetryConfig          `yaml:"retry,omitempty"`
	Breaker            BreakerConfig        `yaml:"breaker,omitempty"`
	RateLimits         map[string]RateLimit `yaml:"rate_limits,omitempty"`
}

// ClassificationConfig controls the classification gate.
type ClassificationConfig struct {
	Enabled             *bool   `yaml:"enabled,omitempty"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries              int     `yaml:"max_retries,omitempty"`
	BackoffFactor           float64 `yaml:"backoff_factor,omitempty"`
	TimeoutSeconds          float64 `yaml:"timeout_seconds,omitempty"`
	RateLimitBackoffSeconds float64 `yaml:"rate_limit_backoff_seconds,omitempty"`
}

// Timeout returns the per-attempt timeout.
func (r RetryConfig) Timeout() time.Duration {
	return seconds(r.TimeoutSeconds)
}

// RateLimitBackoff returns the wait after a 429.
func (r RetryConfig) RateLimitBackoff() time.Duration {
	return seconds(r.RateLimitBackoffSeconds)
}

// BreakerConfig defines circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int     `yaml:"failure_threshold,omitempty"`
	TimeoutSeconds   float64 `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns how long an open breaker stays open.
func (b BreakerConfig) Timeout() time.Duration {
	return seconds(b.TimeoutSeconds)
}

// RateLimit paces requests to one provider.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{}
	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if len(cfg.CouncilModels) == 0 {
		cfg.CouncilModels = append([]string(nil), DefaultCouncilModels...)
	}
	if cfg.ChairmanModel == "" {
		cfg.ChairmanModel = DefaultChairmanModel
	}
	if cfg.CouncilTemperature == nil {
		t := defaultTemperature
		cfg.CouncilTemperature = &t
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = defaultStrategy
	}
	if cfg.MultiRoundRounds <= 0 {
		cfg.MultiRoundRounds = defaultRounds
	}
	if cfg.Classification.Enabled == nil {
		enabled := true
		cfg.Classification.Enabled = &enabled
	}
	if cfg.Classification.ConfidenceThreshold <= 0 || cfg.Classification.ConfidenceThreshold > 1 {
		cfg.Classification.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BackoffFactor <= 0 {
		cfg.Retry.BackoffFactor = 2
	}
	if cfg.Retry.TimeoutSeconds <= 0 {
		cfg.Retry.TimeoutSeconds = 60
	}
	if cfg.Retry.RateLimitBackoffSeconds <= 0 {
		cfg.Retry.RateLimitBackoffSeconds = 60
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.TimeoutSeconds <= 0 {
		cfg.Breaker.TimeoutSeconds = 60
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
