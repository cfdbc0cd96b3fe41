package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zen-systems/council/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Timeout)

	b := New(Config{FailureThreshold: -1})
	assert.Equal(t, DefaultConfig(), b.Config())
}

func TestOpensAtThresholdAndResetsAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	b := New(DefaultConfig(), WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		b.RecordFailure("openrouter")
		require.False(t, b.IsOpen("openrouter"), "open after %d failures", i+1)
	}

	b.RecordFailure("openrouter")
	assert.True(t, b.IsOpen("openrouter"))
	assert.Equal(t, StateOpen, b.State("openrouter"))

	clock.Advance(59 * time.Second)
	assert.True(t, b.IsOpen("openrouter"))
	assert.Equal(t, 5, b.Failures("openrouter"))

	clock.Advance(time.Second)
	assert.False(t, b.IsOpen("openrouter"))
	assert.Equal(t, 0, b.Failures("openrouter"))
	assert.Equal(t, StateClosed, b.State("openrouter"))
}

func TestProbeFailureReopensImmediately(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 2, Timeout: 10 * time.Second}, WithClock(clock.Now))

	b.RecordFailure("p")
	b.RecordFailure("p")
	require.True(t, b.IsOpen("p"))

	clock.Advance(10 * time.Second)
	require.False(t, b.IsOpen("p"))

	b.RecordFailure("p")
	assert.False(t, b.IsOpen("p"), "one failure after reset is below threshold")
	b.RecordFailure("p")
	assert.True(t, b.IsOpen("p"))
}

func TestRecordSuccessResets(t *testing.T) {
	b := New(DefaultConfig())

	b.RecordFailure("p")
	b.RecordFailure("p")
	b.RecordSuccess("p")
	assert.Equal(t, 0, b.Failures("p"))

	b.RecordSuccess("unknown")
	assert.Equal(t, 0, b.Failures("unknown"))
}

func TestProvidersAreIndependent(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Minute})

	b.RecordFailure("a")
	assert.True(t, b.IsOpen("a"))
	assert.False(t, b.IsOpen("b"))
}

func TestStateDoesNotReset(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{FailureThreshold: 1, Timeout: time.Second}, WithClock(clock.Now))

	b.RecordFailure("p")
	clock.Advance(2 * time.Second)
	assert.Equal(t, StateClosed, b.State("p"))
	assert.Equal(t, 1, b.Failures("p"), "State must not clear the counter")
}

func TestSnapshot(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Timeout: time.Minute})
	b.RecordFailure("zeta")
	b.RecordFailure("alpha")
	b.RecordFailure("alpha")

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Provider)
	assert.Equal(t, "open", snap[0].State)
	assert.Equal(t, 2, snap[0].Failures)
	assert.Equal(t, "zeta", snap[1].Provider)
	assert.Equal(t, "closed", snap[1].State)
}

func TestConcurrentAccess(t *testing.T) {
	b := New(Config{FailureThreshold: 1000, Timeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure("shared")
			_ = b.IsOpen("shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, b.Failures("shared"))

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.RecordFailure("shared")
		}()
		go func() {
			defer wg.Done()
			b.RecordSuccess("shared")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, b.Failures("shared"), 150)
}

func TestMetricsWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)
	b := New(Config{FailureThreshold: 1, Timeout: time.Minute}, WithMetrics(collector))

	b.RecordFailure("p")
	assert.True(t, b.IsOpen("p"))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_breaker_open"])
	assert.True(t, names["test_breaker_failures_total"])
	assert.True(t, names["test_breaker_rejections_total"])
}

func TestProperty_OpenIffThresholdReached(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 10).Draw(rt, "threshold")
		failures := rapid.IntRange(0, 20).Draw(rt, "failures")

		b := New(Config{FailureThreshold: threshold, Timeout: time.Hour})
		for i := 0; i < failures; i++ {
			b.RecordFailure("p")
		}

		if got, want := b.IsOpen("p"), failures >= threshold; got != want {
			rt.Fatalf("IsOpen=%v after %d failures with threshold %d", got, failures, threshold)
		}
	})
}
