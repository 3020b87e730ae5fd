// Package embedder implements the Embedding Gateway (C3): turning a batch
// of strings into fixed-dimension dense vectors via an external model,
// with bounded sub-batching and a retry policy (spec §4.3).
//
// Grounded on the teacher's own internal/rag/embedder.clientEmbedder
// (rate-limited HTTP calls over internal/embedding.EmbedText), generalized
// with the spec's default batch size of 32 and exponential-backoff retry.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/embedding"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// DefaultBatchSize is the spec's default request sub-batch size.
const DefaultBatchSize = 32

// maxAttempts is the gateway's own retry policy before surfacing
// ErrEmbeddingUnavailable (spec §4.3).
const maxAttempts = 3

// Embedder turns text into dense vectors.
type Embedder interface {
	// EmbedBatch returns one embedding vector per input text, sub-batching
	// internally when len(texts) exceeds the configured batch size.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns D, the fixed embedding dimensionality.
	Dimension() int
}

type clientEmbedder struct {
	cfg        config.EmbeddingConfig
	dim        int
	batchSize  int
	httpClient *http.Client
	mu         sync.Mutex
}

// NewClient constructs an Embedder that calls the configured embedding
// endpoint, sub-batching at DefaultBatchSize and retrying each sub-batch
// with exponential backoff before surfacing ErrEmbeddingUnavailable. A nil
// httpClient falls back to http.DefaultClient; production wiring passes
// the otelhttp-instrumented client so embedding calls show up in traces.
func NewClient(cfg config.EmbeddingConfig, dim int, httpClient *http.Client) Embedder {
	return &clientEmbedder{cfg: cfg, dim: dim, batchSize: DefaultBatchSize, httpClient: httpClient}
}

func (c *clientEmbedder) Dimension() int { return c.dim }

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.callWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *clientEmbedder) callWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vecs, err := embedding.EmbedText(ctx, c.cfg, batch, c.httpClient)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", ragerrors.ErrEmbeddingUnavailable, lastErr)
}

// deterministicEmbedder is a lightweight, deterministic embedder for
// tests: hashes byte 3-grams into a fixed-size vector and L2-normalizes.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a deterministic embedder with the given
// dimension, safe for concurrent use without any network dependency.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	b := []byte(s)
	if len(b) < 3 {
		add(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			add(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func add(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
