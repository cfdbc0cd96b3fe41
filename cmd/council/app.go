package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/archive"
	"github.com/zen-systems/council/pkg/breaker"
	"github.com/zen-systems/council/pkg/classify"
	"github.com/zen-systems/council/pkg/config"
	"github.com/zen-systems/council/pkg/council"
	"github.com/zen-systems/council/pkg/logging"
	"github.com/zen-systems/council/pkg/metrics"
	"github.com/zen-systems/council/pkg/router"
	"github.com/zen-systems/council/pkg/transport"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	promReg    *prometheus.Registry
	metrics    *metrics.Collector
	breaker    *breaker.Breaker
	transport  *transport.Client
	registry   *adapter.Registry
	classifier *classify.Classifier
	router     *router.Router
	council    *council.Council
}

// configOverride adjusts the loaded config before components are wired.
type configOverride func(*config.Config) error

func withStrategy(strategy string) configOverride {
	return func(cfg *config.Config) error {
		if strategy == "" {
			return nil
		}
		return cfg.SetStrategy(strategy)
	}
}

func newApp(ctx context.Context, overrides ...configOverride) (*app, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, override := range overrides {
		if err := override(cfg); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		promReg: prometheus.NewRegistry(),
	}
	a.metrics = metrics.NewCollector(metrics.DefaultNamespace, a.promReg, logger)

	rc := cfg.RoutingConfig
	a.breaker = breaker.New(breaker.Config{
		FailureThreshold: rc.Breaker.FailureThreshold,
		Timeout:          rc.Breaker.Timeout(),
	}, breaker.WithLogger(logger), breaker.WithMetrics(a.metrics))

	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithMetrics(a.metrics),
	}
	for provider, rl := range rc.RateLimits {
		opts = append(opts, transport.WithRateLimit(provider, rl.RequestsPerSecond, rl.Burst))
	}
	a.transport = transport.New(a.breaker, transport.Config{
		MaxRetries:       rc.Retry.MaxRetries,
		BackoffFactor:    rc.Retry.BackoffFactor,
		Timeout:          rc.Retry.Timeout(),
		RateLimitBackoff: rc.Retry.RateLimitBackoff(),
	}, opts...)

	a.registry, err = createRegistry(ctx, cfg, a.transport, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	a.classifier, err = classify.New()
	if err != nil {
		return nil, fmt.Errorf("invalid classification table: %w", err)
	}

	a.router = router.NewRouter(a.classifier, a.registry.QueryFunc(), router.Getters{
		ArbiterModel:        cfg.ArbiterModel,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	},
		router.WithLogger(logger),
		router.WithMetrics(a.metrics),
		router.WithEnabled(cfg.ClassificationEnabled),
	)

	orchestrator := council.NewOrchestrator(council.WithLogger(logger), council.WithMetrics(a.metrics))
	a.council, err = council.New(a.router, a.registry.QueryFunc(), cfg, orchestrator, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newLogger() (*zap.Logger, error) {
	level := logLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Load()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return config.LoadFrom(cfg.ConfigDir, configFile)
}

// createRegistry registers an adapter for every configured provider.
// OpenRouter, when configured, serves all ids without a direct adapter.
func createRegistry(ctx context.Context, cfg *config.Config, tc *transport.Client, logger *zap.Logger) (*adapter.Registry, error) {
	reg := adapter.NewRegistry(logger)
	reg.Register(adapter.NewMockAdapter())

	if cfg.HasAdapter("anthropic") {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey, tc)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}

	if cfg.HasAdapter("openai") {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey, tc)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}

	if cfg.HasAdapter("google") {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey, tc)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}

	if cfg.HasAdapter("deepseek") {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey, tc)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}

	if cfg.HasAdapter("ollama") {
		a, err := adapter.NewOllamaAdapter(cfg.OllamaBaseURL, tc)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}

	if cfg.HasAdapter("openrouter") {
		a, err := adapter.NewOpenRouterAdapter(cfg.OpenRouterAPIKey, tc)
		if err != nil {
			return nil, err
		}
		reg.SetFallback(a)
	}

	return reg, nil
}

func (a *app) openArchive() (*archive.Store, error) {
	return archive.NewStore(archiveDir)
}

// writeMetrics dumps every gathered metric family in the text format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.promReg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
