// Package query implements the Query Planner (C8): expanding a raw
// question into a hypothetical passage (HyDE) before embedding it, so the
// query vector lands closer to real regulatory prose than the bare
// question would (spec §4.8).
//
// Grounded on the teacher's internal/rag/retrieve.BuildQueryPlan (a plan
// struct produced from a raw query before retrieval runs) and its own
// internal/rag/llmgw.Gateway.CompleteShort for the hypothetical-passage
// step.
package query

import (
	"context"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/embedder"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/llmgw"
)

// expandTemperature and expandMaxTokens are the spec's fixed HyDE
// sampling parameters (spec §4.8).
const (
	expandTemperature = 0.7
	expandMaxTokens   = 250
)

const hydeSystemPrompt = `You write a short hypothetical passage that would answer the user's question if it appeared in a banking or financial regulation document. Write 3 to 4 sentences of plausible regulatory prose. Do not mention that the passage is hypothetical, do not address the user, and do not ask questions.`

// Plan is the output of expanding and embedding one question.
type Plan struct {
	ExpandedText string
	QueryVector  []float32
	// Degraded is true when HyDE expansion failed and the raw question was
	// embedded instead (spec §4.8).
	Degraded bool
}

// Planner expands a question and produces its query vector.
type Planner interface {
	Plan(ctx context.Context, question string) (Plan, error)
}

type planner struct {
	llm llmgw.Gateway
	emb embedder.Embedder
}

// New constructs a Planner from the LLM and embedding gateways.
func New(llm llmgw.Gateway, emb embedder.Embedder) Planner {
	return &planner{llm: llm, emb: emb}
}

func (p *planner) Plan(ctx context.Context, question string) (Plan, error) {
	expanded, err := p.llm.CompleteShort(ctx, hydeSystemPrompt+"\n\nQuestion: "+question, expandTemperature, expandMaxTokens)
	textToEmbed := expanded
	degraded := false
	if err != nil || expanded == "" {
		textToEmbed = question
		degraded = true
	}

	vecs, err := p.emb.EmbedBatch(ctx, []string{textToEmbed})
	if err != nil {
		return Plan{}, err
	}

	result := Plan{QueryVector: vecs[0], Degraded: degraded}
	if degraded {
		result.ExpandedText = question
	} else {
		result.ExpandedText = expanded
	}
	return result, nil
}
