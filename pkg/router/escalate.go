package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/logging"
)

const (
	arbiterTemperature = 0.3
	arbiterTimeout     = 15 * time.Second

	escalationFailedReasoning = "classification failed, defaulting to full deliberation"
)

// Escalator asks the arbiter model to settle an uncertain fast decision.
type Escalator struct {
	arbiter func() string
	logger  *zap.Logger
}

// NewEscalator creates an escalator. arbiter is read on every call.
func NewEscalator(arbiter func() string, logger *zap.Logger) *Escalator {
	logger = logging.OrNop(logger)
	return &Escalator{
		arbiter: arbiter,
		logger:  logger.With(zap.String("component", "escalator")),
	}
}

// FallbackDecision is returned whenever escalation cannot produce a valid
// answer.
func FallbackDecision() Decision {
	return Decision{
		Type:       Deliberation,
		Confidence: fallbackConfidence,
		Reasoning:  escalationFailedReasoning,
		Tier:       TierFallback,
	}
}

// Escalate sends the classification prompt to the arbiter. It never returns
// an error; every failure resolves to FallbackDecision.
func (e *Escalator) Escalate(ctx context.Context, query string, queryFn adapter.QueryFunc) Decision {
	model := ""
	if e.arbiter != nil {
		model = strings.TrimSpace(e.arbiter())
	}
	if model == "" || queryFn == nil {
		e.logger.Warn("arbiter classification unavailable", zap.String("model", model))
		return FallbackDecision()
	}

	resp, err := queryFn(ctx, adapter.Request{
		Model:       model,
		Messages:    adapter.UserMessage(buildArbiterPrompt(query)),
		Temperature: arbiterTemperature,
		Timeout:     arbiterTimeout,
	})
	if err != nil {
		e.logger.Warn("arbiter classification failed", zap.String("model", model), zap.Error(err))
		return FallbackDecision()
	}
	if resp == nil || resp.Error {
		msg := "empty response"
		if resp != nil {
			msg = resp.ErrorMessage
		}
		e.logger.Warn("arbiter returned an error", zap.String("model", model), zap.String("error", msg))
		return FallbackDecision()
	}

	pick, err := parseArbiterResponse(resp.Content)
	if err != nil {
		e.logger.Warn("arbiter response invalid", zap.String("model", model), zap.Error(err))
		return FallbackDecision()
	}

	decision := Decision{
		Type:         pick.Type,
		Confidence:   pick.Confidence,
		Reasoning:    pick.Reasoning,
		Tier:         TierArbiter,
		ArbiterModel: model,
	}
	e.logger.Info("arbiter classification",
		zap.String("model", model),
		zap.String("type", string(decision.Type)),
		zap.Float64("confidence", decision.Confidence),
	)
	return decision
}

type arbiterPick struct {
	Type       DecisionType
	Confidence float64
	Reasoning  string
}

// parseArbiterResponse treats content as untrusted: every field must be
// present with the right JSON type.
func parseArbiterResponse(content string) (*arbiterPick, error) {
	content = stripCodeFence(content)

	var raw struct {
		Type       *string  `json:"type"`
		Confidence *float64 `json:"confidence"`
		Reasoning  *string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	if raw.Type == nil {
		return nil, fmt.Errorf("missing type")
	}
	if raw.Confidence == nil {
		return nil, fmt.Errorf("missing confidence")
	}
	if raw.Reasoning == nil {
		return nil, fmt.Errorf("missing reasoning")
	}

	t := DecisionType(strings.ToLower(strings.TrimSpace(*raw.Type)))
	if !t.Valid() {
		return nil, fmt.Errorf("invalid type %q", *raw.Type)
	}
	return &arbiterPick{
		Type:       t,
		Confidence: clamp01(*raw.Confidence),
		Reasoning:  *raw.Reasoning,
	}, nil
}

// stripCodeFence removes a ``` or ```json wrapper around the payload.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[i+1:]
	} else {
		content = strings.TrimPrefix(strings.TrimPrefix(content, "json"), "JSON")
	}
	content = strings.TrimSpace(content)
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func buildArbiterPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this user message and determine if it requires full council deliberation or can be answered directly.\n\n")
	sb.WriteString("DIRECT RESPONSE (answer immediately):\n")
	sb.WriteString("- Simple factual questions (\"What is the capital of France?\")\n")
	sb.WriteString("- Basic greetings or casual conversation (\"Hello\", \"Thank you\")\n")
	sb.WriteString("- Simple calculations (\"What is 2+2?\")\n")
	sb.WriteString("- Clear, objective questions with single correct answers\n\n")
	sb.WriteString("COUNCIL DELIBERATION (full multi-model process):\n")
	sb.WriteString("- Complex questions requiring analysis or opinions\n")
	sb.WriteString("- Questions with multiple valid perspectives\n")
	sb.WriteString("- Comparisons that need evaluation (\"Compare X vs Y\")\n")
	sb.WriteString("- Subjective topics requiring diverse viewpoints\n")
	sb.WriteString("- Ambiguous or nuanced questions\n\n")
	sb.WriteString("User message: \"" + query + "\"\n\n")
	sb.WriteString("Respond with ONLY this JSON format (no markdown, no code blocks):\n")
	sb.WriteString(`{"type": "direct", "confidence": 0.85, "reasoning": "Simple factual question"}`)
	sb.WriteString("\nor\n")
	sb.WriteString(`{"type": "deliberation", "confidence": 0.90, "reasoning": "Complex comparison requiring multiple perspectives"}`)
	return sb.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
