package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/chunker"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

// fakeEmbedder lets tests force an embedding failure without a live
// gateway; otherwise it returns one fixed-length zero vector per text.
type fakeEmbedder struct {
	dim  int
	fail bool
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

// fakeStore is an in-memory store.Store standing in for Postgres so
// coordinator tests can assert commit/rollback behavior without a
// database.
type fakeStore struct {
	docs       map[uuid.UUID]store.Document
	chunkCount map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[uuid.UUID]store.Document{}, chunkCount: map[uuid.UUID]int{}}
}

func (s *fakeStore) BeginIngestion(_ context.Context, doc store.Document) (store.Ingestion, error) {
	return &fakeIngestion{s: s, doc: doc}, nil
}
func (s *fakeStore) KNN(context.Context, []float32, int) ([]store.ScoredChunk, error) { return nil, nil }
func (s *fakeStore) FetchChunksByIDs(context.Context, []uuid.UUID) ([]store.Chunk, error) {
	return nil, nil
}
func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (store.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return store.Document{}, ragerrors.ErrDocumentNotFound
	}
	return d, nil
}
func (s *fakeStore) ListDocuments(context.Context) ([]store.Document, error) { return nil, nil }
func (s *fakeStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	if _, ok := s.docs[id]; !ok {
		return ragerrors.ErrDocumentNotFound
	}
	delete(s.docs, id)
	return nil
}
func (s *fakeStore) CountDocuments(context.Context) (int, error) { return len(s.docs), nil }
func (s *fakeStore) CountChunks(context.Context) (int, error)    { return 0, nil }
func (s *fakeStore) Close()                                      {}

type fakeIngestion struct {
	s         *fakeStore
	doc       store.Document
	inserted  int
	committed bool
}

func (i *fakeIngestion) InsertChunks(_ context.Context, chunks []store.DraftChunk) error {
	i.inserted += len(chunks)
	return nil
}

func (i *fakeIngestion) Commit(context.Context) (store.Document, error) {
	i.committed = true
	i.s.docs[i.doc.ID] = i.doc
	i.s.chunkCount[i.doc.ID] = i.inserted
	return i.doc, nil
}

func (i *fakeIngestion) Rollback(context.Context) error { return nil }

func testOpts() chunker.Options {
	return chunker.Options{SizeTokens: 50, OverlapTokens: 10, MinTokens: 5}
}

func TestIngest_HappyPath(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	text := "Article 1. Minimum capital requirements apply to all institutions. " +
		"Article 2. The CET1 ratio must exceed 4.5 percent at all times under this regulation."
	doc, err := c.Ingest(context.Background(), []byte(text), "reg.txt", "regulation")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, doc.ID)
	require.Greater(t, doc.ChunkCount, 0)

	got, err := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, "reg.txt", got.Name)
}

func TestIngest_EmptyDocumentYieldsNothing(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	_, err := c.Ingest(context.Background(), []byte("   \n\n  "), "blank.txt", "document")
	require.ErrorIs(t, err, ragerrors.ErrIngestionYieldedNothing)
	require.Empty(t, st.docs)
}

func TestIngest_EmbeddingFailureRollsBack(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8, fail: true}, testOpts(), nil, nil)

	_, err := c.Ingest(context.Background(), []byte("Article 1. Some regulatory text that chunks cleanly into pieces."), "reg.txt", "regulation")
	require.Error(t, err)
	require.Empty(t, st.docs)
}

func TestIngest_UnsupportedMIMERejected(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	_, err := c.Ingest(context.Background(), []byte("whatever"), "report.xlsx", "document")
	require.ErrorIs(t, err, ragerrors.ErrUnsupportedMIME)
}

func TestIngest_CancelledContextAborts(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ingest(ctx, []byte("Article 1. Some regulatory text that chunks cleanly into pieces of real length."), "reg.txt", "regulation")
	require.ErrorIs(t, err, ragerrors.ErrCancelled)
	require.Empty(t, st.docs)
}

func TestDelete_RemovesDocument(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	doc, err := c.Ingest(context.Background(), []byte("Article 1. Regulatory text long enough to chunk into at least one piece."), "reg.txt", "regulation")
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), doc.ID))
	_, err = st.GetDocument(context.Background(), doc.ID)
	require.ErrorIs(t, err, ragerrors.ErrDocumentNotFound)
}

func TestDelete_UnknownDocument(t *testing.T) {
	st := newFakeStore()
	c := New(t.TempDir(), st, &fakeEmbedder{dim: 8}, testOpts(), nil, nil)

	err := c.Delete(context.Background(), uuid.New())
	require.ErrorIs(t, err, ragerrors.ErrDocumentNotFound)
}
