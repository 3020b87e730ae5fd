// Package store implements the Chunk Store (C6): persistence of documents
// and chunks, ANN retrieval, and atomic delete-cascade (spec §3, §4.6).
//
// Grounded on the teacher's internal/persistence/databases package (backend
// selection by config, pgxpool connection setup) and its own
// agentic_memory.go (pgvector-go column type, `<->`-operator KNN queries),
// generalized to the pgvector cosine operator `<=>` the spec names and to
// the richer Document/Chunk schema of §3.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Document is the persisted, immutable-after-creation document record (§3).
type Document struct {
	ID         uuid.UUID
	Name       string
	StoredPath string
	SizeBytes  int64
	MIMEKind   string
	Class      string
	UploadedAt time.Time
	Metadata   map[string]string
	ChunkCount int
}

// ChunkMetadata is the recognized chunk metadata schema (§3).
type ChunkMetadata struct {
	Page             int
	PageExtracted    bool
	PhysicalPosition int
	Section          string
	DocumentName     string
}

// Chunk is a persisted chunk, owned by exactly one document (§3).
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	TokenCount int
	Embedding  []float32
	Metadata   ChunkMetadata
}

// ScoredChunk pairs a chunk with its ANN cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float64
}

// DraftChunk is a chunk awaiting embedding/persistence during ingestion. ID
// may be left zero; InsertChunks assigns one when absent.
type DraftChunk struct {
	ID         uuid.UUID
	ChunkIndex int
	Content    string
	TokenCount int
	Embedding  []float32
	Metadata   ChunkMetadata
}

// Store is the Chunk Store contract (§4.6).
type Store interface {
	// BeginIngestion opens a staging transaction for a new document; its
	// rows are invisible to KNN/List/Get until Commit (spec §4.7 step 2).
	BeginIngestion(ctx context.Context, doc Document) (Ingestion, error)

	KNN(ctx context.Context, queryVector []float32, k int) ([]ScoredChunk, error)
	FetchChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error)

	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	CountDocuments(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)

	Close()
}

// Ingestion is a single document's staged writes, committed or rolled back
// as one unit (spec §4.7 steps 2-6).
type Ingestion interface {
	InsertChunks(ctx context.Context, chunks []DraftChunk) error
	Commit(ctx context.Context) (Document, error)
	Rollback(ctx context.Context) error
}
