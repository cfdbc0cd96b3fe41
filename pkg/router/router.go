// Package router decides whether a query is answered directly or sent to the
// full council. A pattern-based fast gate settles obvious cases; uncertain
// ones are escalated to an arbiter model.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/metrics"
)

// Router is the two-tier classifier.
type Router struct {
	gate      *FastGate
	escalator *Escalator
	queryFn   adapter.QueryFunc
	enabled   func() bool
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts decisions per tier.
func WithMetrics(m *metrics.Collector) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithEnabled supplies the classification toggle. When it reports false every
// query goes to deliberation.
func WithEnabled(enabled func() bool) RouterOption {
	return func(r *Router) {
		r.enabled = enabled
	}
}

// Getters are read at call time so configuration changes apply to the next
// query.
type Getters struct {
	ArbiterModel        func() string
	ConfidenceThreshold func() float64
}

// NewRouter creates a router over the pattern classifier c. queryFn reaches
// the arbiter model.
func NewRouter(c PatternClassifier, queryFn adapter.QueryFunc, getters Getters, opts ...RouterOption) *Router {
	r := &Router{
		queryFn: queryFn,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "router"))
	r.gate = NewFastGate(c, getters.ConfidenceThreshold, r.logger)
	r.escalator = NewEscalator(getters.ArbiterModel, r.logger)
	return r
}

// Gate returns the fast gate.
func (r *Router) Gate() *FastGate {
	return r.gate
}

// Classify resolves a decision for query. It never fails.
func (r *Router) Classify(ctx context.Context, query string) Decision {
	if r.enabled != nil && !r.enabled() {
		d := Decision{
			Type:       Deliberation,
			Confidence: 1.0,
			Reasoning:  "classification disabled, using full deliberation",
			Tier:       TierDisabled,
		}
		r.metrics.IncClassification(string(d.Tier), string(d.Type))
		return d
	}

	fast := r.gate.FastClassify(query)
	if fast.Certain {
		d := fast.Resolve()
		r.logger.Info("fast classification succeeded",
			zap.String("type", string(d.Type)),
			zap.String("category", string(d.Category)),
			zap.Float64("confidence", d.Confidence),
		)
		r.metrics.IncClassification(string(d.Tier), string(d.Type))
		return d
	}

	r.logger.Info("fast classifier uncertain, escalating",
		zap.String("category", string(fast.Category)),
		zap.Float64("confidence", fast.Confidence),
	)
	d := r.escalator.Escalate(ctx, query, r.queryFn)
	if d.Tier == TierArbiter {
		d.Category = fast.Category
	}
	r.metrics.IncClassification(string(d.Tier), string(d.Type))
	return d
}
