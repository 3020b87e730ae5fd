// Package retrieve implements the Retriever (C9): ANN candidate recall,
// cross-encoder reranking with min-max normalization, threshold
// filtering, and two-pass per-document diversity selection (spec §4.9).
//
// Grounded on the teacher's internal/rag/retrieve package: FuseRRF's
// fused-candidate shape and deterministic tie-breaking (fusion.go), and
// Diversify's per-document penalty loop, generalized here into the
// spec's exact two-pass breadth/depth algorithm rather than a continuous
// penalty.
package retrieve

import (
	"context"
	"sort"
	"time"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/rerank"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

// Options configures one retrieve call (spec §6 env vars).
type Options struct {
	InitialTopK      int
	TopKResults      int
	MaxPerDoc        int
	EnforceDiversity bool
	RerankThreshold  float64
}

// Candidate is one ranked chunk in the final result, carrying both its
// normalized rerank score and the raw ANN similarity used for tie-breaking.
type Candidate struct {
	Chunk      store.Chunk
	Score      float64 // normalized to [0,1]; cosine similarity in fallback mode
	Similarity float64 // raw ANN cosine similarity, always present
}

// StageTimings records per-stage wall-clock duration for observability
// (spec §4.9 "stage 5 packaging").
type StageTimings struct {
	Recall   time.Duration
	Rerank   time.Duration
	Select   time.Duration
}

// Result is the packaged output of one retrieve call.
type Result struct {
	Candidates []Candidate
	Degraded   bool
	Timings    StageTimings
}

// Retriever runs the recall -> rerank -> threshold -> diversify pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, question, expandedText string, queryVector []float32) (Result, error)
}

type retriever struct {
	store   store.Store
	reranker rerank.Gateway
	opts    Options
}

// New constructs a Retriever. opts should come from config.RetrievalConfig.
func New(st store.Store, rr rerank.Gateway, opts Options) Retriever {
	if opts.InitialTopK <= 0 {
		opts.InitialTopK = 50
	}
	if opts.TopKResults <= 0 {
		opts.TopKResults = 8
	}
	if opts.MaxPerDoc <= 0 {
		opts.MaxPerDoc = 3
	}
	return &retriever{store: st, reranker: rr, opts: opts}
}

func (r *retriever) Retrieve(ctx context.Context, question, expandedText string, queryVector []float32) (Result, error) {
	recallStart := time.Now()
	scored, err := r.store.KNN(ctx, queryVector, r.opts.InitialTopK)
	recallElapsed := time.Since(recallStart)
	if err != nil {
		return Result{}, err
	}
	if len(scored) == 0 {
		return Result{Timings: StageTimings{Recall: recallElapsed}}, nil
	}

	rerankStart := time.Now()
	passages := make([]string, len(scored))
	for i, s := range scored {
		passages[i] = s.Chunk.Content
	}
	rawScores, rerankErr := r.reranker.Score(ctx, question, passages)
	rerankElapsed := time.Since(rerankStart)

	degraded := rerankErr != nil
	var normalized []float64
	if degraded {
		normalized = make([]float64, len(scored))
		for i, s := range scored {
			normalized[i] = s.Similarity
		}
	} else {
		normalized = minMaxNormalize(rawScores)
	}

	candidates := make([]Candidate, len(scored))
	for i, s := range scored {
		candidates[i] = Candidate{Chunk: s.Chunk, Score: normalized[i], Similarity: s.Similarity}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return lessCandidate(candidates[i], candidates[j])
	})

	selectStart := time.Now()
	if !degraded {
		candidates, degraded = applyThreshold(candidates, r.opts.RerankThreshold, degraded)
	}

	selected := candidates
	if r.opts.EnforceDiversity {
		selected = diversify(candidates, r.opts.MaxPerDoc, r.opts.TopKResults)
	} else if len(selected) > r.opts.TopKResults {
		selected = selected[:r.opts.TopKResults]
	}
	selectElapsed := time.Since(selectStart)

	return Result{
		Candidates: selected,
		Degraded:   degraded,
		Timings: StageTimings{
			Recall: recallElapsed,
			Rerank: rerankElapsed,
			Select: selectElapsed,
		},
	}, nil
}

// minMaxNormalize linearly rescales raw cross-encoder scores to [0,1]; a
// degenerate batch (max == min) maps every score to 1.0 (spec §4.9).
func minMaxNormalize(raw []float64) []float64 {
	if len(raw) == 0 {
		return nil
	}
	min, max := raw[0], raw[0]
	for _, v := range raw {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(raw))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range raw {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// applyThreshold drops candidates scoring below threshold; if that would
// drop everything, the single best candidate is kept and degraded is set
// (spec §4.9 "stage 3 thresholding").
func applyThreshold(candidates []Candidate, threshold float64, degraded bool) ([]Candidate, bool) {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 && len(candidates) > 0 {
		return candidates[:1], true
	}
	return kept, degraded
}

// diversify runs the spec's two-pass greedy selection: pass A takes one
// chunk per distinct document in rank order (breadth), pass B fills the
// remainder from the remaining rank-ordered candidates while staying
// under maxPerDoc per document (depth), stopping at topK total (spec
// §4.9 "stage 4").
func diversify(candidates []Candidate, maxPerDoc, topK int) []Candidate {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	selected := make([]Candidate, 0, topK)
	used := make([]bool, len(candidates))
	perDoc := map[string]int{}

	for i, c := range candidates {
		if len(selected) >= topK {
			break
		}
		docID := c.Chunk.DocumentID.String()
		if perDoc[docID] > 0 {
			continue
		}
		selected = append(selected, c)
		used[i] = true
		perDoc[docID]++
	}

	for i, c := range candidates {
		if len(selected) >= topK {
			break
		}
		if used[i] {
			continue
		}
		docID := c.Chunk.DocumentID.String()
		if perDoc[docID] >= maxPerDoc {
			continue
		}
		selected = append(selected, c)
		used[i] = true
		perDoc[docID]++
	}

	return selected
}

// lessCandidate orders a before b: higher normalized score first, then
// higher raw ANN similarity, then ascending lexicographic
// (document_id, chunk_index) (spec §4.9 tie-breaking).
func lessCandidate(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID.String() < b.Chunk.DocumentID.String()
	}
	return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
}
