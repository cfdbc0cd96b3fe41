// Package metrics exposes prometheus collectors for the council core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/logging"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "council"

// Collector holds the council metrics. A nil *Collector is valid and
// records nothing, so components can take one unconditionally.
type Collector struct {
	breakerOpen      *prometheus.GaugeVec
	breakerFailures  *prometheus.CounterVec
	breakerTrips     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	roundResults     *prometheus.CounterVec
	roundDuration    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger = logging.OrNop(logger)
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.breakerOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "open",
			Help:      "1 when the provider circuit is open, 0 otherwise",
		},
		[]string{"provider"},
	)

	c.breakerFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "failures_total",
			Help:      "Failures recorded against a provider circuit",
		},
		[]string{"provider"},
	)

	c.breakerTrips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "rejections_total",
			Help:      "Requests rejected without I/O because the circuit was open",
		},
		[]string{"provider"},
	)

	c.providerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider calls by final outcome",
		},
		[]string{"provider", "outcome"},
	)

	c.providerRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Provider retries by reason",
		},
		[]string{"provider", "reason"},
	)

	c.classifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classification",
			Name:      "decisions_total",
			Help:      "Classification decisions by tier and type",
		},
		[]string{"tier", "type"},
	)

	c.roundResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "results_total",
			Help:      "Per-model round results by outcome",
		},
		[]string{"outcome"},
	)

	c.roundDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one council round",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"round"},
	)

	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c
}

// SetBreakerOpen records the open/closed state of a provider circuit.
func (c *Collector) SetBreakerOpen(provider string, open bool) {
	if c == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	c.breakerOpen.WithLabelValues(provider).Set(v)
}

// IncBreakerFailure counts one recorded provider failure.
func (c *Collector) IncBreakerFailure(provider string) {
	if c == nil {
		return
	}
	c.breakerFailures.WithLabelValues(provider).Inc()
}

// IncBreakerRejection counts one request refused by an open circuit.
func (c *Collector) IncBreakerRejection(provider string) {
	if c == nil {
		return
	}
	c.breakerTrips.WithLabelValues(provider).Inc()
}

// IncProviderRequest counts a finished provider call.
func (c *Collector) IncProviderRequest(provider, outcome string) {
	if c == nil {
		return
	}
	c.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// IncRetry counts a retry and why it happened.
func (c *Collector) IncRetry(provider, reason string) {
	if c == nil {
		return
	}
	c.providerRetries.WithLabelValues(provider, reason).Inc()
}

// IncClassification counts a classification decision.
func (c *Collector) IncClassification(tier, decisionType string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(tier, decisionType).Inc()
}

// IncRoundResult counts one model's result within a round.
func (c *Collector) IncRoundResult(outcome string) {
	if c == nil {
		return
	}
	c.roundResults.WithLabelValues(outcome).Inc()
}

// ObserveRound records how long a round took.
func (c *Collector) ObserveRound(round string, d time.Duration) {
	if c == nil {
		return
	}
	c.roundDuration.WithLabelValues(round).Observe(d.Seconds())
}
