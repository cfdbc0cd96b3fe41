package router

import "github.com/zen-systems/council/pkg/classify"

// DecisionType says how a query is answered.
type DecisionType string

const (
	Direct       DecisionType = "direct"
	Deliberation DecisionType = "deliberation"
)

// Valid reports whether t is one of the two decision types.
func (t DecisionType) Valid() bool {
	return t == Direct || t == Deliberation
}

// Tier records which stage produced a decision.
type Tier string

const (
	TierFast     Tier = "fast"
	TierArbiter  Tier = "arbiter"
	TierFallback Tier = "fallback"
	TierDisabled Tier = "disabled"
)

// GateDecision is the fast gate's output. Certain is internal to the router
// and never leaves it.
type GateDecision struct {
	Type       DecisionType
	Confidence float64
	Reasoning  string
	Category   classify.Category
	Certain    bool
}

// Decision captures the resolved classification.
type Decision struct {
	Type         DecisionType      `json:"type"`
	Confidence   float64           `json:"confidence"`
	Reasoning    string            `json:"reasoning"`
	Category     classify.Category `json:"category,omitempty"`
	Tier         Tier              `json:"tier"`
	ArbiterModel string            `json:"arbiter_model,omitempty"`
}

// Resolve drops the certainty flag.
func (g GateDecision) Resolve() Decision {
	return Decision{
		Type:       g.Type,
		Confidence: g.Confidence,
		Reasoning:  g.Reasoning,
		Category:   g.Category,
		Tier:       TierFast,
	}
}
