package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zen-systems/council/pkg/adapter"
	"github.com/zen-systems/council/pkg/metrics"
	"github.com/zen-systems/council/pkg/transport"
)

// scripted answers per model and round; failing models return errors.
type scripted struct {
	mu      sync.Mutex
	failing map[string]map[int]bool
	prompts map[string][]string
}

func newScripted() *scripted {
	return &scripted{
		failing: make(map[string]map[int]bool),
		prompts: make(map[string][]string),
	}
}

func (s *scripted) fail(model string, round int) {
	if s.failing[model] == nil {
		s.failing[model] = make(map[int]bool)
	}
	s.failing[model][round] = true
}

func (s *scripted) query(_ context.Context, req adapter.Request) (*adapter.Response, error) {
	s.mu.Lock()
	s.prompts[req.Model] = append(s.prompts[req.Model], req.Messages[0].Content)
	round := len(s.prompts[req.Model])
	failing := s.failing[req.Model][round]
	s.mu.Unlock()

	if failing {
		return nil, &transport.CircuitOpenError{Provider: req.Model}
	}
	return &adapter.Response{Model: req.Model, Content: fmt.Sprintf("%s answer r%d", req.Model, round)}, nil
}

func (s *scripted) promptsFor(model string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[model]...)
}

func fixedTemperature() float64 { return 0.5 }

func TestRunRoundsExcludesErroredPeers(t *testing.T) {
	s := newScripted()
	s.fail("b", 1)
	models := []string{"a", "b", "c"}

	history, final, err := RunRounds(context.Background(), "Why is the sky blue?", "", models, 2, s.query, fixedTemperature)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, final, 3)

	round1 := history[0]
	assert.Equal(t, 1, round1.Round)
	assert.True(t, round1.Results[1].Error)
	assert.Nil(t, round1.Results[1].Response)
	assert.Contains(t, round1.Results[1].ErrorMessage, "circuit")

	for _, model := range models {
		prompts := s.promptsFor(model)
		require.Len(t, prompts, 2, "model %s queried every round", model)
		assert.Equal(t, "Why is the sky blue?", prompts[0])

		refinement := prompts[1]
		assert.Contains(t, refinement, "Model a said:\na answer r1")
		assert.Contains(t, refinement, "Model c said:\nc answer r1")
		assert.NotContains(t, refinement, "Model b said")
		assert.Contains(t, refinement, "Original question: Why is the sky blue?")
	}

	assert.Equal(t, history[1].Results, final)
	for i, r := range final {
		assert.Equal(t, models[i], r.Model)
		assert.False(t, r.Error)
		require.NotNil(t, r.Response)
		assert.Equal(t, models[i]+" answer r2", *r.Response)
	}
}

func TestRunRoundsSearchContext(t *testing.T) {
	s := newScripted()
	_, _, err := RunRounds(context.Background(), "q", "ctx data", []string{"a"}, 2, s.query, fixedTemperature)
	require.NoError(t, err)

	prompts := s.promptsFor("a")
	assert.Equal(t, "Context from web search:\nctx data\n\nQuestion: q", prompts[0])
	assert.Contains(t, prompts[1], "Context: ctx data")
}

func TestRunRoundsAllFailingStillReturns(t *testing.T) {
	queryFn := func(context.Context, adapter.Request) (*adapter.Response, error) {
		return &adapter.Response{Error: true, ErrorMessage: "quota exceeded"}, nil
	}

	history, final, err := RunRounds(context.Background(), "q", "", []string{"a", "b"}, 2, queryFn, fixedTemperature)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, r := range final {
		assert.True(t, r.Error)
		assert.Equal(t, "quota exceeded", r.ErrorMessage)
	}
}

func TestRunRoundsRecoversPanickingQuery(t *testing.T) {
	queryFn := func(_ context.Context, req adapter.Request) (*adapter.Response, error) {
		if req.Model == "bad" {
			panic("nil map")
		}
		return &adapter.Response{Content: "ok"}, nil
	}

	_, final, err := RunRounds(context.Background(), "q", "", []string{"good", "bad"}, 1, queryFn, nil)
	require.NoError(t, err)
	assert.False(t, final[0].Error)
	assert.True(t, final[1].Error)
	assert.Contains(t, final[1].ErrorMessage, "panicked")
}

func TestRunRoundsFansOutConcurrently(t *testing.T) {
	var inFlight, peak int32
	queryFn := func(context.Context, adapter.Request) (*adapter.Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &adapter.Response{Content: "ok"}, nil
	}

	_, _, err := RunRounds(context.Background(), "q", "", []string{"a", "b", "c", "d"}, 1, queryFn, nil)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestRunRoundsResultsFollowModelOrder(t *testing.T) {
	delays := map[string]time.Duration{"slow": 40 * time.Millisecond, "fast": 0, "mid": 20 * time.Millisecond}
	queryFn := func(_ context.Context, req adapter.Request) (*adapter.Response, error) {
		time.Sleep(delays[req.Model])
		return &adapter.Response{Content: req.Model}, nil
	}

	_, final, err := RunRounds(context.Background(), "q", "", []string{"slow", "fast", "mid"}, 1, queryFn, nil)
	require.NoError(t, err)
	for i, model := range []string{"slow", "fast", "mid"} {
		assert.Equal(t, model, final[i].Model)
		assert.Equal(t, model, *final[i].Response)
	}
}

func TestRunRoundsPassesTemperature(t *testing.T) {
	var got []float64
	var mu sync.Mutex
	queryFn := func(_ context.Context, req adapter.Request) (*adapter.Response, error) {
		mu.Lock()
		got = append(got, req.Temperature)
		mu.Unlock()
		return &adapter.Response{Content: "ok"}, nil
	}

	calls := 0
	temperature := func() float64 {
		calls++
		return 0.1 * float64(calls)
	}
	_, _, err := RunRounds(context.Background(), "q", "", []string{"a"}, 2, queryFn, temperature)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "temperature read once per round")
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, got, 1e-9)
}

func TestRunRoundsInvalidArguments(t *testing.T) {
	s := newScripted()
	_, _, err := RunRounds(context.Background(), "q", "", nil, 2, s.query, nil)
	assert.Error(t, err)
	_, _, err = RunRounds(context.Background(), "q", "", []string{"a"}, 0, s.query, nil)
	assert.Error(t, err)
	_, _, err = RunRounds(context.Background(), "q", "", []string{"a"}, 1, nil, nil)
	assert.Error(t, err)
}

func TestRunRoundsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScripted()
	history, _, err := RunRounds(ctx, "q", "", []string{"a"}, 2, s.query, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, history)
	assert.Empty(t, s.promptsFor("a"))
}

func TestRunRoundsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("test", reg, nil)
	s := newScripted()
	s.fail("b", 1)

	o := NewOrchestrator(WithMetrics(m))
	_, _, err := o.RunRounds(context.Background(), "q", "", []string{"a", "b"}, 1, s.query, nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "test_round_results_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRefinementPromptLayout(t *testing.T) {
	a, c := "first", "third"
	prompt := refinementPrompt("q", "", []RoundResult{
		{Model: "a", Response: &a},
		{Model: "b", Error: true, ErrorMessage: "down"},
		{Model: "c", Response: &c},
	})
	assert.True(t, strings.HasPrefix(prompt, "Previous round responses:\n\nModel a said:\nfirst\n\nModel c said:\nthird\n\nOriginal question: q"))
	assert.True(t, strings.HasSuffix(prompt, "address any gaps or errors you noticed."))
}

func TestProperty_RoundShape(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "models")
		rounds := rapid.IntRange(1, 4).Draw(rt, "rounds")
		failRate := rapid.IntRange(0, 100).Draw(rt, "failRate")

		models := make([]string, n)
		for i := range models {
			models[i] = fmt.Sprintf("m%d", i)
		}
		var counter int64
		queryFn := func(_ context.Context, req adapter.Request) (*adapter.Response, error) {
			if atomic.AddInt64(&counter, 1)%100 < int64(failRate) {
				return nil, errors.New("boom")
			}
			return &adapter.Response{Content: req.Model}, nil
		}

		history, final, err := RunRounds(context.Background(), "q", "", models, rounds, queryFn, nil)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(history) != rounds {
			rt.Fatalf("history length %d, want %d", len(history), rounds)
		}
		if len(final) != n {
			rt.Fatalf("final length %d, want %d", len(final), n)
		}
		for i, record := range history {
			if record.Round != i+1 || len(record.Results) != n {
				rt.Fatalf("round %d malformed: %+v", i+1, record)
			}
			for j, r := range record.Results {
				if r.Model != models[j] {
					rt.Fatalf("slot %d holds %s", j, r.Model)
				}
				if r.Error == (r.Response != nil) {
					rt.Fatalf("result %+v must carry exactly one of error or response", r)
				}
			}
		}
	})
}
