package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) Store {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgres(context.Background(), dsn, 8)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestIngestion_CommitMakesDocumentVisible(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ing, err := s.BeginIngestion(ctx, Document{Name: "reg.pdf", StoredPath: "/tmp/reg.pdf", MIMEKind: "pdf", Class: "regulation"})
	require.NoError(t, err)

	err = ing.InsertChunks(ctx, []DraftChunk{
		{ChunkIndex: 0, Content: "The minimum CET1 ratio is 4.5%.", TokenCount: 10, Embedding: unitVector(8, 0),
			Metadata: ChunkMetadata{Page: 1, PhysicalPosition: 1, DocumentName: "reg.pdf"}},
	})
	require.NoError(t, err)

	doc, err := ing.Commit(ctx)
	require.NoError(t, err)
	defer s.DeleteDocument(ctx, doc.ID)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ChunkCount)
}

func TestIngestion_RollbackLeavesNoTrace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	before, err := s.CountDocuments(ctx)
	require.NoError(t, err)

	ing, err := s.BeginIngestion(ctx, Document{Name: "draft.pdf", StoredPath: "/tmp/draft.pdf", MIMEKind: "pdf", Class: "document"})
	require.NoError(t, err)
	require.NoError(t, ing.InsertChunks(ctx, []DraftChunk{
		{ChunkIndex: 0, Content: "irrelevant", TokenCount: 2, Embedding: unitVector(8, 1),
			Metadata: ChunkMetadata{Page: 1, PhysicalPosition: 1, DocumentName: "draft.pdf"}},
	}))
	require.NoError(t, ing.Rollback(ctx))

	after, err := s.CountDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	s := testStore(t)
	err := s.DeleteDocument(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestKNN_ReturnsNearestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ing, err := s.BeginIngestion(ctx, Document{Name: "knn.pdf", StoredPath: "/tmp/knn.pdf", MIMEKind: "pdf", Class: "document"})
	require.NoError(t, err)
	require.NoError(t, ing.InsertChunks(ctx, []DraftChunk{
		{ChunkIndex: 0, Content: "near", TokenCount: 1, Embedding: unitVector(8, 0), Metadata: ChunkMetadata{Page: 1, PhysicalPosition: 1, DocumentName: "knn.pdf"}},
		{ChunkIndex: 1, Content: "far", TokenCount: 1, Embedding: unitVector(8, 4), Metadata: ChunkMetadata{Page: 1, PhysicalPosition: 1, DocumentName: "knn.pdf"}},
	}))
	doc, err := ing.Commit(ctx)
	require.NoError(t, err)
	defer s.DeleteDocument(ctx, doc.ID)

	results, err := s.KNN(ctx, unitVector(8, 0), 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "near", results[0].Chunk.Content)
}

func unitVector(dim, hotIndex int) []float32 {
	v := make([]float32, dim)
	v[hotIndex%dim] = 1
	return v
}
