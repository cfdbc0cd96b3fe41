// Package config loads council settings from ~/.council and the environment.
// Environment variables take precedence over files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	OpenRouterAPIKey string
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	GoogleAPIKey     string
	DeepSeekAPIKey   string
	OllamaBaseURL    string
	RoutingConfig    *RoutingConfig
	Aliases          *ModelAliases
	ConfigDir        string
}

// FileConfig represents the structure of ~/.council/config.yaml
type FileConfig struct {
	APIKeys       APIKeysConfig `yaml:"api_keys"`
	OllamaBaseURL string        `yaml:"ollama_base_url,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	OpenRouter string `yaml:"openrouter"`
	Anthropic  string `yaml:"anthropic"`
	OpenAI     string `yaml:"openai"`
	Google     string `yaml:"google"`
	DeepSeek   string `yaml:"deepseek"`
}

// Load reads configuration from ~/.council and environment variables.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return LoadFrom(configDir, "")
}

// LoadFrom reads config.yaml, models.yaml and the routing file from
// configDir. An empty routingPath means configDir/routing.yaml when present.
func LoadFrom(configDir, routingPath string) (*Config, error) {
	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		OpenRouterAPIKey: getEnvOrDefault("OPENROUTER_API_KEY", fileConfig.APIKeys.OpenRouter),
		AnthropicAPIKey:  getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:     getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:     getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:   getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		OllamaBaseURL:    getEnvOrDefault("OLLAMA_BASE_URL", fileConfig.OllamaBaseURL),
		ConfigDir:        configDir,
	}

	explicit := routingPath != ""
	if !explicit {
		routingPath = filepath.Join(configDir, "routing.yaml")
	}
	if _, statErr := os.Stat(routingPath); statErr == nil || explicit {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
		}
		cfg.RoutingConfig = routing
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	if err := applyEnvOverrides(cfg.RoutingConfig); err != nil {
		return nil, err
	}

	aliases, err := LoadAliasesWithFallback(filepath.Join(configDir, "models.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load model aliases: %w", err)
	}
	cfg.Aliases = aliases
	return cfg, nil
}

// applyEnvOverrides layers the deliberation environment variables on top of
// the routing file.
func applyEnvOverrides(r *RoutingConfig) error {
	if v, ok := lookupEnv("ENABLE_CLASSIFICATION"); ok {
		enabled := strings.EqualFold(v, "true")
		r.Classification.Enabled = &enabled
	}
	if v, ok := lookupEnv("CLASSIFICATION_CONFIDENCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return fmt.Errorf("invalid CLASSIFICATION_CONFIDENCE %q: must be in (0, 1]", v)
		}
		r.Classification.ConfidenceThreshold = f
	}
	if v, ok := lookupEnv("DEFAULT_STRATEGY"); ok {
		r.DefaultStrategy = strings.ToLower(v)
	}
	if v, ok := lookupEnv("MULTI_ROUND_ROUNDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid MULTI_ROUND_ROUNDS %q: must be a positive integer", v)
		}
		r.MultiRoundRounds = n
	}
	if v, ok := lookupEnv("COUNCIL_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 2 {
			return fmt.Errorf("invalid COUNCIL_TEMPERATURE %q: must be in [0, 2]", v)
		}
		r.CouncilTemperature = &f
	}
	if v, ok := lookupEnv("CHAIRMAN_MODEL"); ok {
		r.ChairmanModel = v
	}
	if v, ok := lookupEnv("COUNCIL_MODELS"); ok {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		if len(models) > 0 {
			r.CouncilModels = models
		}
	}
	return nil
}

// SetStrategy overrides the default strategy for this process only.
func (c *Config) SetStrategy(strategy string) error {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	if strategy != "simple" && strategy != "multi_round" {
		return fmt.Errorf("strategy %q must be simple or multi_round", strategy)
	}
	if c.RoutingConfig == nil {
		c.RoutingConfig = DefaultRoutingConfig()
	}
	c.RoutingConfig.DefaultStrategy = strategy
	return nil
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "openrouter":
		return c.OpenRouterAPIKey != ""
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "ollama":
		return c.OllamaBaseURL != ""
	case "mock":
		return true
	default:
		return false
	}
}

func (c *Config) routing() *RoutingConfig {
	if c.RoutingConfig == nil {
		c.RoutingConfig = DefaultRoutingConfig()
	}
	return c.RoutingConfig
}

// CouncilModels returns the council members with aliases resolved.
func (c *Config) CouncilModels() []string {
	models := c.routing().CouncilModels
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = c.Aliases.Resolve(m)
	}
	return out
}

// ArbiterModel returns the chairman, which also arbitrates classification.
func (c *Config) ArbiterModel() string {
	return c.Aliases.Resolve(c.routing().ChairmanModel)
}

// RoundCount returns the number of rounds for the multi_round strategy.
func (c *Config) RoundCount() int {
	return c.routing().MultiRoundRounds
}

// CouncilTemperature returns the sampling temperature for council rounds.
func (c *Config) CouncilTemperature() float64 {
	if t := c.routing().CouncilTemperature; t != nil {
		return *t
	}
	return defaultTemperature
}

// DefaultStrategy returns "simple" or "multi_round".
func (c *Config) DefaultStrategy() string {
	return c.routing().DefaultStrategy
}

// ConfidenceThreshold returns the fast gate's deliberation cutoff.
func (c *Config) ConfidenceThreshold() float64 {
	return c.routing().Classification.ConfidenceThreshold
}

// ClassificationEnabled reports whether the classification gate runs.
func (c *Config) ClassificationEnabled() bool {
	if e := c.routing().Classification.Enabled; e != nil {
		return *e
	}
	return true
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func lookupEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".council")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
