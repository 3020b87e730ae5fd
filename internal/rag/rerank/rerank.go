// Package rerank implements the Reranker Gateway (C4): scoring
// (query, passage) pairs via an external cross-encoder model (spec §4.4).
// Grounded on the teacher's root reRankChunks (RerankRequest/RerankResponse
// HTTP shape), generalized to return raw scores for the retriever to
// normalize rather than reordering chunks itself.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

const defaultTimeout = 15 * time.Second

// Gateway scores a query against a batch of passages.
type Gateway interface {
	// Score returns one raw, unbounded-sign relevance score per passage,
	// same order as passages (spec §4.4).
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

type request struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type response struct {
	Results []result `json:"results"`
}

type httpGateway struct {
	cfg config.RerankConfig
	hc  *http.Client
}

// NewHTTP constructs a Gateway backed by an HTTP cross-encoder endpoint. A
// nil httpClient falls back to a bare *http.Client{}; callers that want the
// reranker's calls traced (e.g. the otelhttp-instrumented client
// observability.NewHTTPClient builds) pass it in explicitly.
func NewHTTP(cfg config.RerankConfig, httpClient *http.Client) Gateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &httpGateway{cfg: cfg, hc: httpClient}
}

func (g *httpGateway) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	timeout := defaultTimeout
	if g.cfg.Timeout > 0 {
		timeout = time.Duration(g.cfg.Timeout) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(request{Model: g.cfg.Model, Query: query, TopN: len(passages), Documents: passages})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal rerank payload: %v", ragerrors.ErrRerankerUnavailable, err)
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, g.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ragerrors.ErrRerankerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerrors.ErrRerankerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ragerrors.ErrRerankerUnavailable, resp.StatusCode, string(body))
	}

	var rr response
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ragerrors.ErrRerankerUnavailable, err)
	}

	scores := make([]float64, len(passages))
	for _, r := range rr.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

// Deterministic is a network-free Gateway for tests: it scores a passage
// by the fraction of query words it contains, so retrieval tests are
// reproducible without a live cross-encoder.
type Deterministic struct{}

func (Deterministic) Score(_ context.Context, query string, passages []string) ([]float64, error) {
	qWords := wordSet(query)
	scores := make([]float64, len(passages))
	for i, p := range passages {
		if len(qWords) == 0 {
			continue
		}
		pWords := wordSet(p)
		hit := 0
		for w := range qWords {
			if pWords[w] {
				hit++
			}
		}
		scores[i] = float64(hit) / float64(len(qWords))
	}
	return scores, nil
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '.' || r == ',' || r == '?' || r == '!' {
			flush()
			continue
		}
		word = append(word, toLower(r))
	}
	flush()
	return out
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
