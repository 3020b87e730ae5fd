package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic_ScoresByWordOverlap(t *testing.T) {
	g := Deterministic{}
	scores, err := g.Score(context.Background(), "minimum CET1 ratio", []string{
		"the minimum CET1 ratio is 4.5 percent",
		"completely unrelated sentence about weather",
	})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Greater(t, scores[0], scores[1])
}

func TestDeterministic_EmptyPassages(t *testing.T) {
	g := Deterministic{}
	scores, err := g.Score(context.Background(), "query", nil)
	require.NoError(t, err)
	require.Empty(t, scores)
}

func TestDeterministic_EmptyQueryYieldsZeroScores(t *testing.T) {
	g := Deterministic{}
	scores, err := g.Score(context.Background(), "", []string{"anything"})
	require.NoError(t, err)
	require.Equal(t, []float64{0}, scores)
}
