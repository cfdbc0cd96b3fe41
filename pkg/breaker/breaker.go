// Package breaker tracks consecutive failures per provider and refuses
// traffic to a provider that keeps failing until a cooldown has passed.
package breaker

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/metrics"
)

// State is the circuit state of one provider.
type State int

const (
	// StateClosed lets requests through.
	StateClosed State = iota
	// StateOpen fails requests fast without I/O.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Timeout is how long the circuit stays open after the last failure.
	Timeout time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

type providerState struct {
	failures    int
	lastFailure time.Time
}

// ProviderSnapshot is a point-in-time view of one provider circuit.
type ProviderSnapshot struct {
	Provider    string    `json:"provider"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	State       string    `json:"state"`
}

// Breaker is a per-provider circuit breaker. It is safe for concurrent use.
// There is no half-open trial: once the timeout elapses the next check closes
// the circuit and the following real request acts as the probe.
type Breaker struct {
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	providers map[string]*providerState
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics reports circuit state to the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Breaker) {
		b.metrics = c
	}
}

// New creates a breaker. Non-positive config values fall back to defaults.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	b := &Breaker{
		cfg:       cfg,
		now:       time.Now,
		logger:    zap.NewNop(),
		providers: make(map[string]*providerState),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "breaker"))
	return b
}

// Config returns the thresholds in effect.
func (b *Breaker) Config() Config {
	return b.cfg
}

func (b *Breaker) state(provider string) *providerState {
	st, ok := b.providers[provider]
	if !ok {
		st = &providerState{}
		b.providers[provider] = st
	}
	return st
}

// IsOpen reports whether requests to provider must fail fast. Once the
// timeout since the last failure has elapsed it resets the counter and
// reports closed.
func (b *Breaker) IsOpen(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.providers[provider]
	if !ok || st.failures < b.cfg.FailureThreshold {
		return false
	}

	if b.now().Sub(st.lastFailure) < b.cfg.Timeout {
		b.logger.Warn("circuit open",
			zap.String("provider", provider),
			zap.Int("failures", st.failures),
		)
		b.metrics.IncBreakerRejection(provider)
		return true
	}

	b.logger.Info("circuit reset",
		zap.String("provider", provider),
		zap.Int("failures", st.failures),
	)
	st.failures = 0
	b.metrics.SetBreakerOpen(provider, false)
	return false
}

// RecordFailure counts one failure and stamps its time.
func (b *Breaker) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(provider)
	st.failures++
	st.lastFailure = b.now()
	b.metrics.IncBreakerFailure(provider)

	if st.failures == b.cfg.FailureThreshold {
		b.logger.Warn("circuit opened",
			zap.String("provider", provider),
			zap.Int("failures", st.failures),
			zap.Int("threshold", b.cfg.FailureThreshold),
			zap.Duration("timeout", b.cfg.Timeout),
		)
	}
	if st.failures >= b.cfg.FailureThreshold {
		b.metrics.SetBreakerOpen(provider, true)
	}
}

// RecordSuccess clears the failure count.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.providers[provider]
	if !ok || st.failures == 0 {
		return
	}
	st.failures = 0
	b.metrics.SetBreakerOpen(provider, false)
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures(provider string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.providers[provider]; ok {
		return st.failures
	}
	return 0
}

// State reports the circuit state without resetting it.
func (b *Breaker) State(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(provider)
}

func (b *Breaker) stateLocked(provider string) State {
	st, ok := b.providers[provider]
	if !ok || st.failures < b.cfg.FailureThreshold {
		return StateClosed
	}
	if b.now().Sub(st.lastFailure) < b.cfg.Timeout {
		return StateOpen
	}
	return StateClosed
}

// Snapshot lists every known provider sorted by name.
func (b *Breaker) Snapshot() []ProviderSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ProviderSnapshot, 0, len(b.providers))
	for name, st := range b.providers {
		out = append(out, ProviderSnapshot{
			Provider:    name,
			Failures:    st.failures,
			LastFailure: st.lastFailure,
			State:       b.stateLocked(name).String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
