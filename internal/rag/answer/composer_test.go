package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/llmgw"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/query"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/retrieve"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

type fakePlanner struct {
	plan query.Plan
	err  error
}

func (f fakePlanner) Plan(context.Context, string) (query.Plan, error) { return f.plan, f.err }

type fakeRetriever struct {
	result retrieve.Result
	err    error
}

func (f fakeRetriever) Retrieve(context.Context, string, string, []float32) (retrieve.Result, error) {
	return f.result, f.err
}

func oneCandidate(content, docName string, page int) retrieve.Candidate {
	return retrieve.Candidate{
		Chunk: store.Chunk{
			ID:       uuid.New(),
			Content:  content,
			Metadata: store.ChunkMetadata{DocumentName: docName, Page: page},
		},
		Score: 0.8,
	}
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestAnswer_PlanningFailureAbortsWithoutStream(t *testing.T) {
	p := fakePlanner{err: errors.New("llm down")}
	r := fakeRetriever{}
	c := New(p, r, &llmgw.Fake{}, config.AnswerConfig{})

	_, err := c.Answer(context.Background(), "what is the minimum CET1 ratio?", nil)
	require.Error(t, err)
}

func TestAnswer_RetrievingFailureAbortsWithoutStream(t *testing.T) {
	p := fakePlanner{plan: query.Plan{ExpandedText: "x", QueryVector: []float32{1}}}
	r := fakeRetriever{err: errors.New("store down")}
	c := New(p, r, &llmgw.Fake{}, config.AnswerConfig{})

	_, err := c.Answer(context.Background(), "q", nil)
	require.Error(t, err)
}

func TestAnswer_HappyPathEmitsTextCitationsMetricsDone(t *testing.T) {
	cand := oneCandidate("The minimum CET1 ratio is 4.5 percent at all times.", "reg.pdf", 3)
	p := fakePlanner{plan: query.Plan{ExpandedText: "hypothetical", QueryVector: []float32{1}}}
	r := fakeRetriever{result: retrieve.Result{Candidates: []retrieve.Candidate{cand}}}
	llm := &llmgw.Fake{StreamParts: []string{
		"The minimum capital requirement is stated in ",
		"⟨cite id=\"C1\"⟩The minimum CET1 ratio is 4.5 percent at all times.⟨/cite⟩",
		" which all institutions must maintain.",
	}}
	c := New(p, r, llm, config.AnswerConfig{FuzzyAccept: 0.9, InputPricePer1M: 1, OutputPricePer1M: 2})

	events, err := c.Answer(context.Background(), "what is the minimum CET1 ratio?", nil)
	require.NoError(t, err)
	got := drain(t, events)

	var sawText, sawCitations, sawMetrics, sawDone bool
	var citationsPayload CitationsPayload
	var metricsPayload MetricsPayload
	for _, e := range got {
		switch e.Kind {
		case KindText:
			sawText = true
		case KindCitations:
			sawCitations = true
			citationsPayload = e.Citations
		case KindMetrics:
			sawMetrics = true
			metricsPayload = e.Metrics
		case KindDone:
			sawDone = true
		}
	}
	require.True(t, sawText)
	require.True(t, sawCitations)
	require.True(t, sawMetrics)
	require.True(t, sawDone)
	require.Len(t, citationsPayload.Citations, 1)
	require.Equal(t, "C1", citationsPayload.Citations[0].ID)
	require.False(t, citationsPayload.Citations[0].Fuzzy)
	require.Equal(t, 1, metricsPayload.CitationsCount)
	require.False(t, metricsPayload.Degraded)
}

func TestAnswer_HallucinatedCitationRejectedAndDegradedInStrictMode(t *testing.T) {
	cand := oneCandidate("The minimum CET1 ratio is 4.5 percent.", "reg.pdf", 3)
	p := fakePlanner{plan: query.Plan{ExpandedText: "hypothetical", QueryVector: []float32{1}}}
	r := fakeRetriever{result: retrieve.Result{Candidates: []retrieve.Candidate{cand}}}
	llm := &llmgw.Fake{StreamParts: []string{
		"⟨cite id=\"C1\"⟩The minimum CET1 ratio is 9.9 percent.⟨/cite⟩",
	}}
	c := New(p, r, llm, config.AnswerConfig{FuzzyAccept: 0.9, StrictCitations: true})

	events, err := c.Answer(context.Background(), "q", nil)
	require.NoError(t, err)
	got := drain(t, events)

	var citationsPayload CitationsPayload
	var metricsPayload MetricsPayload
	for _, e := range got {
		if e.Kind == KindCitations {
			citationsPayload = e.Citations
		}
		if e.Kind == KindMetrics {
			metricsPayload = e.Metrics
		}
	}
	require.Empty(t, citationsPayload.Citations)
	require.Len(t, citationsPayload.InvalidCitations, 1)
	require.True(t, metricsPayload.Degraded)
}

func TestAnswer_SentinelNeverSplitAcrossChunks(t *testing.T) {
	cand := oneCandidate("Banks must report quarterly.", "reg.pdf", 1)
	p := fakePlanner{plan: query.Plan{ExpandedText: "x", QueryVector: []float32{1}}}
	r := fakeRetriever{result: retrieve.Result{Candidates: []retrieve.Candidate{cand}}}
	llm := &llmgw.Fake{StreamParts: []string{
		"Per the rule, ",
		"⟨cite id=\"C1",
		"\"⟩Banks must report quarterly.",
		"⟨/cite⟩",
		" as required.",
	}}
	c := New(p, r, llm, config.AnswerConfig{FuzzyAccept: 0.9})

	events, err := c.Answer(context.Background(), "q", nil)
	require.NoError(t, err)
	got := drain(t, events)

	for _, e := range got {
		if e.Kind != KindText {
			continue
		}
		require.Equal(t, strings.Count(e.Text, citeSentinelOpen), strings.Count(e.Text, citeSentinelClose))
	}

	var citationsPayload CitationsPayload
	for _, e := range got {
		if e.Kind == KindCitations {
			citationsPayload = e.Citations
		}
	}
	require.Len(t, citationsPayload.Citations, 1)
}

func TestAnswer_CancelledContextEmitsNoEvents(t *testing.T) {
	cand := oneCandidate("content", "reg.pdf", 1)
	p := fakePlanner{plan: query.Plan{ExpandedText: "x", QueryVector: []float32{1}}}
	r := fakeRetriever{result: retrieve.Result{Candidates: []retrieve.Candidate{cand}}}
	llm := &llmgw.Fake{StreamErr: context.Canceled}
	c := New(p, r, llm, config.AnswerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events, err := c.Answer(ctx, "q", nil)
	require.NoError(t, err)
	got := drain(t, events)
	require.Empty(t, got)
}
