package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/embedder"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/llmgw"
)

type failingEmbedder struct{ err error }

func (f failingEmbedder) Dimension() int { return 8 }
func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}

func TestPlan_ExpandsAndEmbeds(t *testing.T) {
	llm := &llmgw.Fake{ShortAnswer: "Institutions must maintain a CET1 ratio of at least 4.5 percent at all times."}
	emb := embedder.NewDeterministic(16, true, 1)
	p := New(llm, emb)

	plan, err := p.Plan(context.Background(), "What is the minimum CET1 ratio?")
	require.NoError(t, err)
	require.False(t, plan.Degraded)
	require.Equal(t, llm.ShortAnswer, plan.ExpandedText)
	require.Len(t, plan.QueryVector, 16)
}

func TestPlan_FallsBackToRawQuestionOnExpansionFailure(t *testing.T) {
	llm := &llmgw.Fake{ShortErr: errors.New("model unavailable")}
	emb := embedder.NewDeterministic(16, true, 1)
	p := New(llm, emb)

	plan, err := p.Plan(context.Background(), "What is the minimum CET1 ratio?")
	require.NoError(t, err)
	require.True(t, plan.Degraded)
	require.Equal(t, "What is the minimum CET1 ratio?", plan.ExpandedText)
	require.Len(t, plan.QueryVector, 16)
}

func TestPlan_EmbeddingFailurePropagates(t *testing.T) {
	llm := &llmgw.Fake{ShortAnswer: "irrelevant"}
	emb := failingEmbedder{err: errors.New("embedding backend down")}
	p := New(llm, emb)

	_, err := p.Plan(context.Background(), "What is the minimum CET1 ratio?")
	require.Error(t, err)
}
