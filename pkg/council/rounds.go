// Package council runs multi-model deliberation: concurrent rounds in which
// every council member answers, then refines its answer against its peers'
// previous responses.
package council

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/metrics"
)

// RoundResult is one model's outcome in one round. Response is nil when
// Error is set.
type RoundResult struct {
	Model        string         `json:"model"`
	Response     *string        `json:"response"`
	Error        bool           `json:"error"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Usage        *adapter.Usage `json:"usage,omitempty"`
}

// RoundRecord holds every model's result for one round, in model order.
type RoundRecord struct {
	Round   int           `json:"round"`
	Results []RoundResult `json:"results"`
}

// TemperatureFunc supplies the sampling temperature for council rounds.
type TemperatureFunc func() float64

// Orchestrator runs deliberation rounds.
type Orchestrator struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records round latency and per-model outcomes.
func WithMetrics(m *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "rounds"))
	return o
}

// RunRounds runs RunRounds on a default orchestrator.
func RunRounds(
	ctx context.Context,
	query, searchContext string,
	models []string,
	roundCount int,
	queryFn adapter.QueryFunc,
	temperatureFn TemperatureFunc,
) ([]RoundRecord, []RoundResult, error) {
	return NewOrchestrator().RunRounds(ctx, query, searchContext, models, roundCount, queryFn, temperatureFn)
}

// RunRounds queries every model roundCount times. Round 1 sees the query;
// later rounds see the successful answers of the round before. Per-model
// failures are recorded in that model's result and never fail the round.
// The returned history always has roundCount records of len(models) results
// unless ctx is cancelled or the arguments are invalid.
func (o *Orchestrator) RunRounds(
	ctx context.Context,
	query, searchContext string,
	models []string,
	roundCount int,
	queryFn adapter.QueryFunc,
	temperatureFn TemperatureFunc,
) ([]RoundRecord, []RoundResult, error) {
	if len(models) == 0 {
		return nil, nil, errors.New("no council models configured")
	}
	if roundCount < 1 {
		return nil, nil, fmt.Errorf("round count must be at least 1, got %d", roundCount)
	}
	if queryFn == nil {
		return nil, nil, errors.New("query function is required")
	}

	history := make([]RoundRecord, 0, roundCount)
	var previous []RoundResult

	for round := 1; round <= roundCount; round++ {
		if err := ctx.Err(); err != nil {
			return history, previous, fmt.Errorf("deliberation cancelled before round %d: %w", round, err)
		}

		var prompt string
		if round == 1 {
			prompt = firstRoundPrompt(query, searchContext)
		} else {
			prompt = refinementPrompt(query, searchContext, previous)
		}

		temperature := 0.0
		if temperatureFn != nil {
			temperature = temperatureFn()
		}

		o.logger.Info("starting round",
			zap.Int("round", round),
			zap.Int("rounds", roundCount),
			zap.Int("models", len(models)),
		)
		start := time.Now()
		results := o.fanOut(ctx, models, prompt, temperature, queryFn)
		o.metrics.ObserveRound(strconv.Itoa(round), time.Since(start))

		history = append(history, RoundRecord{Round: round, Results: results})
		previous = results
	}

	return history, previous, nil
}

// fanOut queries all models concurrently. Each goroutine writes only its own
// slot, so results stay in model order whatever the completion order.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	models []string,
	prompt string,
	temperature float64,
	queryFn adapter.QueryFunc,
) []RoundResult {
	results := make([]RoundResult, len(models))
	messages := adapter.UserMessage(prompt)

	g, gctx := errgroup.WithContext(ctx)
	for i, model := range models {
		g.Go(func() error {
			results[i] = o.queryOne(gctx, model, messages, temperature, queryFn)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) queryOne(
	ctx context.Context,
	model string,
	messages []adapter.Message,
	temperature float64,
	queryFn adapter.QueryFunc,
) (result RoundResult) {
	result.Model = model
	defer func() {
		if r := recover(); r != nil {
			result = RoundResult{Model: model, Error: true, ErrorMessage: fmt.Sprintf("query panicked: %v", r)}
		}
		outcome := "success"
		if result.Error {
			outcome = "error"
			o.logger.Warn("council member failed", zap.String("model", model), zap.String("error", result.ErrorMessage))
		}
		o.metrics.IncRoundResult(outcome)
	}()

	resp, err := queryFn(ctx, adapter.Request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	switch {
	case err != nil:
		result.Error = true
		result.ErrorMessage = err.Error()
	case resp == nil:
		result.Error = true
		result.ErrorMessage = "empty response"
	case resp.Error:
		result.Error = true
		result.ErrorMessage = resp.ErrorMessage
		if result.ErrorMessage == "" {
			result.ErrorMessage = "unknown error"
		}
	default:
		content := resp.Content
		result.Response = &content
		result.Usage = resp.Usage
	}
	return result
}

func firstRoundPrompt(query, searchContext string) string {
	if searchContext == "" {
		return query
	}
	return fmt.Sprintf("Context from web search:\n%s\n\nQuestion: %s", searchContext, query)
}

// refinementPrompt embeds only the successful answers of the previous round.
func refinementPrompt(query, searchContext string, previous []RoundResult) string {
	peers := make([]string, 0, len(previous))
	for _, r := range previous {
		if r.Error {
			continue
		}
		response := "No response"
		if r.Response != nil {
			response = *r.Response
		}
		peers = append(peers, fmt.Sprintf("Model %s said:\n%s", r.Model, response))
	}

	contextBlock := ""
	if searchContext != "" {
		contextBlock = "Context: " + searchContext
	}

	var sb strings.Builder
	sb.WriteString("Previous round responses:\n\n")
	sb.WriteString(strings.Join(peers, "\n\n"))
	sb.WriteString("\n\nOriginal question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\nConsider the previous responses and provide your refined answer. ")
	sb.WriteString("Build upon good insights and address any gaps or errors you noticed.")
	return sb.String()
}
