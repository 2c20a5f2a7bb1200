package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/persistence"
	"memoryd/internal/persistence/databases"
)

// scenario 5 from spec.md §8: vector query returns empty, so prompt search
// transparently falls back to the relational full-text backend and tags the
// result source as "sqlite".
func TestSearchPrompts_FallsBackToStoreWhenVectorEmpty(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()

	sess, err := store.CreateOrGetSession(ctx, "sess-1", "hosted-agent", "codex-mem", "please check PLAYWRIGHT config")
	require.NoError(t, err)
	_, err = store.AppendUserPrompt(ctx, sess.ContentSessionID, "please check PLAYWRIGHT config", 1)
	require.NoError(t, err)

	engine := &Engine{
		Store:  store,
		Vector: databases.NewMemoryVector(), // empty: no vectors upserted
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{0.1, 0.2}, nil
		},
	}

	result, err := engine.SearchPrompts(ctx, "PLAYWRIGHT", "codex-mem", 5)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", result.Source)
	require.Len(t, result.Rows, 1)
	assert.Contains(t, result.Text, `Found 1 user prompt(s) matching "PLAYWRIGHT"`)
}

func TestSearchPrompts_PrefersVectorHitsWhenPresent(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	vec := databases.NewMemoryVector()
	require.NoError(t, vec.Upsert(ctx, "42", []float32{1, 0, 0}, map[string]string{"kind": "prompt", "project": "codex-mem"}))

	engine := &Engine{
		Store:  store,
		Vector: vec,
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}

	result, err := engine.SearchPrompts(ctx, "anything", "codex-mem", 5)
	require.NoError(t, err)
	assert.Equal(t, "vector", result.Source)
	require.Len(t, result.Rows, 1)
}

func TestSearch_RendersNoResultsMessage(t *testing.T) {
	store := persistence.NewMemoryStore()
	engine := &Engine{Store: store}
	text, err := engine.Search(context.Background(), SearchParams{Query: "nothing-will-match"})
	require.NoError(t, err)
	assert.Equal(t, "No results found.", text)
}

func TestGetObservations_FiltersByProjectAfterFetch(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	res, err := store.StoreObservations(ctx, "mem-1", "alpha", []persistence.Observation{
		{Type: "discovery", Title: "a"},
	}, nil, 1)
	require.NoError(t, err)
	res2, err := store.StoreObservations(ctx, "mem-2", "beta", []persistence.Observation{
		{Type: "discovery", Title: "b"},
	}, nil, 2)
	require.NoError(t, err)

	engine := &Engine{Store: store}
	ids := append(append([]int64{}, res.ObservationIDs...), res2.ObservationIDs...)
	out, err := engine.GetObservations(ctx, ids, "alpha")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Title)
}
