package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/council/pkg/council"
	"github.com/zen-systems/council/pkg/router"
)

func sampleSession(id string) *council.Session {
	answer := "Rayleigh scattering"
	return &council.Session{
		ID:    id,
		Query: "Why is the sky blue?",
		Decision: router.Decision{
			Type:       router.Deliberation,
			Confidence: 0.9,
			Reasoning:  "fast classifier: reasoning query requires analysis",
			Tier:       router.TierFast,
		},
		Strategy: council.StrategySimple,
		Rounds: []council.RoundRecord{{
			Round: 1,
			Results: []council.RoundResult{
				{Model: "mock/a", Response: &answer},
				{Model: "mock/b", Error: true, ErrorMessage: "timeout"},
			},
		}},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	session := sampleSession("s-1")
	ref, err := store.SaveSession(session)
	require.NoError(t, err)
	assert.Equal(t, "session", ref.Kind)
	assert.Len(t, ref.SHA256, 64)

	loaded, err := store.LoadSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, session.Query, loaded.Query)
	assert.Equal(t, session.Decision, loaded.Decision)
	require.Len(t, loaded.Rounds, 1)
	require.NotNil(t, loaded.Rounds[0].Results[0].Response)
	assert.Equal(t, "Rayleigh scattering", *loaded.Rounds[0].Results[0].Response)
	assert.Nil(t, loaded.Rounds[0].Results[1].Response)

	entries, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deliberation", entries[0].Decision)
	assert.Equal(t, 1, entries[0].Rounds)
}

func TestStoreObjectIsContentAddressed(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.StoreObject(map[string]int{"x": 1}, "test")
	require.NoError(t, err)
	b, err := store.StoreObject(map[string]int{"x": 1}, "test")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = os.Stat(filepath.Join(store.BasePath, "objects", a.SHA256[:2], a.SHA256+".json"))
	assert.NoError(t, err)
}

func TestLoadObjectDetectsCorruption(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.StoreObject(map[string]string{"k": "v"}, "test")
	require.NoError(t, err)
	path := filepath.Join(store.BasePath, "objects", ref.SHA256[:2], ref.SHA256+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k":"tampered"}`), 0644))

	var out map[string]string
	err = store.LoadObject(ref, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestLoadSessionNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.LoadObject(Ref{SHA256: "abcdef"}, &struct{}{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSessionRequiresID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveSession(&council.Session{})
	assert.Error(t, err)
	_, err = store.SaveSession(nil)
	assert.Error(t, err)
}

func TestConcurrentSavesKeepIndexIntact(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sampleSession(string(rune('a' + i)))
			_, err := store.SaveSession(s)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestListSessionsSkipsMalformedLines(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveSession(sampleSession("good"))
	require.NoError(t, err)

	f, err := os.OpenFile(store.indexPath(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := store.ListSessions()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
