package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/classify"
	"github.com/zen-systems/council/pkg/logging"
)

const (
	directThreshold              = 0.6
	defaultDeliberationThreshold = 0.7
	fallbackConfidence           = 0.5
)

// PatternClassifier scores a query without network access.
type PatternClassifier interface {
	Classify(query string) classify.Result
}

var (
	directEligible = map[classify.Category]bool{
		classify.Factual: true,
	}
	deliberationEligible = map[classify.Category]bool{
		classify.Technical:  true,
		classify.Analytical: true,
		classify.Reasoning:  true,
		classify.Creative:   true,
	}
)

// FastGate maps pattern classification onto a direct/deliberation decision.
type FastGate struct {
	classifier PatternClassifier
	threshold  func() float64
	logger     *zap.Logger
}

// NewFastGate creates a gate. threshold supplies the deliberation cutoff at
// call time; nil uses 0.7.
func NewFastGate(c PatternClassifier, threshold func() float64, logger *zap.Logger) *FastGate {
	logger = logging.OrNop(logger)
	return &FastGate{
		classifier: c,
		threshold:  threshold,
		logger:     logger.With(zap.String("component", "fast_gate")),
	}
}

// FastClassify never fails: a classifier panic yields an uncertain
// deliberation decision.
func (g *FastGate) FastClassify(query string) (decision GateDecision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("fast classifier failed", zap.Any("panic", r))
			decision = GateDecision{
				Type:       Deliberation,
				Confidence: fallbackConfidence,
				Reasoning:  "fast classifier error, needs arbiter",
				Certain:    false,
			}
		}
	}()

	if g.classifier == nil {
		panic("fast gate has no classifier")
	}
	result := g.classifier.Classify(query)

	switch {
	case directEligible[result.Category] && result.Confidence > directThreshold:
		return GateDecision{
			Type:       Direct,
			Confidence: result.Confidence,
			Reasoning:  fmt.Sprintf("fast classifier: %s query with clear signals", result.Category),
			Category:   result.Category,
			Certain:    true,
		}
	case deliberationEligible[result.Category] && result.Confidence > g.deliberationThreshold():
		return GateDecision{
			Type:       Deliberation,
			Confidence: result.Confidence,
			Reasoning:  fmt.Sprintf("fast classifier: %s query requires analysis", result.Category),
			Category:   result.Category,
			Certain:    true,
		}
	}

	t := Direct
	if deliberationEligible[result.Category] {
		t = Deliberation
	}
	return GateDecision{
		Type:       t,
		Confidence: result.Confidence,
		Reasoning:  fmt.Sprintf("fast classifier uncertain: %s", result.Category),
		Category:   result.Category,
		Certain:    false,
	}
}

func (g *FastGate) deliberationThreshold() float64 {
	if g.threshold == nil {
		return defaultDeliberationThreshold
	}
	if v := g.threshold(); v > 0 && v <= 1 {
		return v
	}
	return defaultDeliberationThreshold
}
