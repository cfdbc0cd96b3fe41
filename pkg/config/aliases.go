package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelAliases maps short names onto "provider/model" ids and lists the
// models known per provider.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}

	return &aliases, nil
}

// LoadAliasesWithFallback loads path if it exists, then ~/.council/models.yaml,
// and otherwise returns DefaultAliases.
func LoadAliasesWithFallback(path string) (*ModelAliases, error) {
	var candidates []string
	if path != "" {
		candidates = append(candidates, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".council", "models.yaml"))
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return LoadAliases(p)
		}
	}
	return DefaultAliases(), nil
}

// Resolve returns the canonical model id for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// IsAlias returns true if the given string is a known alias.
func (a *ModelAliases) IsAlias(name string) bool {
	if a == nil || a.Aliases == nil {
		return false
	}
	_, ok := a.Aliases[name]
	return ok
}

// ValidateModel checks a "provider/model" id. Providers without a model list
// are routed through OpenRouter and accept any model.
func (a *ModelAliases) ValidateModel(id string) error {
	provider, model, ok := strings.Cut(id, "/")
	if !ok || provider == "" || model == "" {
		return fmt.Errorf("model %q is not of the form provider/model", id)
	}
	if a == nil || a.Providers == nil {
		return nil
	}

	models, ok := a.Providers[provider]
	if !ok {
		return nil
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %q not in %s provider list", model, provider)
}

// ListAliases returns a copy of the aliases map.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(a.Aliases))
	for k, v := range a.Aliases {
		result[k] = v
	}
	return result
}

// ListProviders returns a sorted list of provider names.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// GetProviderModels returns the models for a given provider.
func (a *ModelAliases) GetProviderModels(provider string) []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	return a.Providers[provider]
}

// ValidateRoutingConfig checks the council and chairman models.
// Returns a slice of validation errors (empty if all valid).
func (a *ModelAliases) ValidateRoutingConfig(cfg *RoutingConfig) []error {
	if cfg == nil {
		return nil
	}

	var errs []error
	for i, m := range cfg.CouncilModels {
		if err := a.ValidateModel(a.Resolve(m)); err != nil {
			errs = append(errs, fmt.Errorf("council model %d: %w", i, err))
		}
	}
	if err := a.ValidateModel(a.Resolve(cfg.ChairmanModel)); err != nil {
		errs = append(errs, fmt.Errorf("chairman: %w", err))
	}
	if s := cfg.DefaultStrategy; s != "simple" && s != "multi_round" {
		errs = append(errs, fmt.Errorf("default_strategy %q must be simple or multi_round", s))
	}
	return errs
}

// DefaultAliases returns the default model aliases configuration.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"gpt":      "openai/gpt-4.1",
			"gemini":   "google/gemini-2.5-pro",
			"flash":    "google/gemini-2.5-flash",
			"claude":   "anthropic/claude-sonnet-4",
			"opus":     "anthropic/claude-opus-4",
			"grok":     "x-ai/grok-3",
			"deepseek": "deepseek/deepseek-chat",
			"reason":   "deepseek/deepseek-reasoner",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-sonnet-4", "claude-opus-4"},
			"openai":    {"gpt-4.1", "gpt-4.1-mini", "gpt-4o"},
			"google":    {"gemini-2.5-pro", "gemini-2.5-flash"},
			"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
		},
	}
}
