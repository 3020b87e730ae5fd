package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// postgresStore persists documents and chunks in Postgres, indexing
// embeddings with pgvector's cosine operator (`<=>`) per spec §4.6.
type postgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgres connects to dsn, ensures the pgvector extension and schema
// exist, and returns a Store sized for the given embedding dimension.
func NewPostgres(ctx context.Context, dsn string, dimension int) (Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", ragerrors.ErrStorageUnavailable, err)
	}
	poolCfg.MaxConns = 16
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ragerrors.ErrStorageUnavailable, err)
	}

	s := &postgresStore{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
            id UUID PRIMARY KEY,
            name TEXT NOT NULL,
            stored_path TEXT NOT NULL,
            size_bytes BIGINT NOT NULL,
            mime_kind TEXT NOT NULL,
            class TEXT NOT NULL,
            uploaded_at TIMESTAMPTZ NOT NULL,
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
            id UUID PRIMARY KEY,
            document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
            chunk_index INT NOT NULL,
            content TEXT NOT NULL,
            token_count INT NOT NULL,
            embedding vector(%d) NOT NULL,
            page INT NOT NULL,
            page_extracted BOOLEAN NOT NULL,
            physical_position INT NOT NULL,
            section TEXT NOT NULL DEFAULT '',
            document_name TEXT NOT NULL,
            UNIQUE(document_id, chunk_index)
        )`, s.dimension),
		`CREATE INDEX IF NOT EXISTS document_chunks_ann_idx
            ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_document_id_idx
            ON document_chunks (document_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: schema: %v", ragerrors.ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *postgresStore) Close() { s.pool.Close() }

// pgIngestion stages one document's writes inside a single pgx transaction,
// invisible to readers until Commit (spec §4.7 steps 2-6).
type pgIngestion struct {
	tx  pgx.Tx
	doc Document
}

func (s *postgresStore) BeginIngestion(ctx context.Context, doc Document) (Ingestion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ragerrors.ErrStorageUnavailable, err)
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("marshal document metadata: %w", err)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
        INSERT INTO documents (id, name, stored_path, size_bytes, mime_kind, class, uploaded_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		doc.ID, doc.Name, doc.StoredPath, doc.SizeBytes, doc.MIMEKind, doc.Class, doc.UploadedAt, meta)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: insert document: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return &pgIngestion{tx: tx, doc: doc}, nil
}

func (p *pgIngestion) InsertChunks(ctx context.Context, chunks []DraftChunk) error {
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		vec := pgvector.NewVector(c.Embedding)
		_, err := p.tx.Exec(ctx, `
            INSERT INTO document_chunks
                (id, document_id, chunk_index, content, token_count, embedding,
                 page, page_extracted, physical_position, section, document_name)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			id, p.doc.ID, c.ChunkIndex, c.Content, c.TokenCount, vec,
			c.Metadata.Page, c.Metadata.PageExtracted, c.Metadata.PhysicalPosition,
			c.Metadata.Section, p.doc.Name)
		if err != nil {
			return fmt.Errorf("%w: insert chunk %d: %v", ragerrors.ErrStorageUnavailable, c.ChunkIndex, err)
		}
	}
	return nil
}

func (p *pgIngestion) Commit(ctx context.Context) (Document, error) {
	if err := p.tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("%w: commit: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return p.doc, nil
}

func (p *pgIngestion) Rollback(ctx context.Context) error {
	if err := p.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("%w: rollback: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *postgresStore) KNN(ctx context.Context, queryVector []float32, k int) ([]ScoredChunk, error) {
	vec := pgvector.NewVector(queryVector)
	rows, err := s.pool.Query(ctx, `
        SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.embedding,
               c.page, c.page_extracted, c.physical_position, c.section, c.document_name,
               1 - (c.embedding <=> $1) AS similarity
        FROM document_chunks c
        ORDER BY c.embedding <=> $1
        LIMIT $2`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: knn: %v", ragerrors.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var embedding pgvector.Vector
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.ChunkIndex, &sc.Chunk.Content,
			&sc.Chunk.TokenCount, &embedding, &sc.Chunk.Metadata.Page, &sc.Chunk.Metadata.PageExtracted,
			&sc.Chunk.Metadata.PhysicalPosition, &sc.Chunk.Metadata.Section, &sc.Chunk.Metadata.DocumentName,
			&sc.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan knn row: %v", ragerrors.ErrStorageUnavailable, err)
		}
		sc.Chunk.Embedding = embedding.Slice()
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: knn rows: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return out, nil
}

func (s *postgresStore) FetchChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, document_id, chunk_index, content, token_count, embedding,
               page, page_extracted, physical_position, section, document_name
        FROM document_chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chunks: %v", ragerrors.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &embedding,
			&c.Metadata.Page, &c.Metadata.PageExtracted, &c.Metadata.PhysicalPosition,
			&c.Metadata.Section, &c.Metadata.DocumentName); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", ragerrors.ErrStorageUnavailable, err)
		}
		c.Embedding = embedding.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	var d Document
	var meta []byte
	row := s.pool.QueryRow(ctx, `
        SELECT d.id, d.name, d.stored_path, d.size_bytes, d.mime_kind, d.class, d.uploaded_at, d.metadata,
               (SELECT count(*) FROM document_chunks c WHERE c.document_id = d.id)
        FROM documents d WHERE d.id = $1`, id)
	if err := row.Scan(&d.ID, &d.Name, &d.StoredPath, &d.SizeBytes, &d.MIMEKind, &d.Class, &d.UploadedAt, &meta, &d.ChunkCount); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, ragerrors.ErrDocumentNotFound
		}
		return Document{}, fmt.Errorf("%w: get document: %v", ragerrors.ErrStorageUnavailable, err)
	}
	_ = json.Unmarshal(meta, &d.Metadata)
	return d, nil
}

func (s *postgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT d.id, d.name, d.stored_path, d.size_bytes, d.mime_kind, d.class, d.uploaded_at, d.metadata,
               (SELECT count(*) FROM document_chunks c WHERE c.document_id = d.id)
        FROM documents d ORDER BY d.uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ragerrors.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.StoredPath, &d.SizeBytes, &d.MIMEKind, &d.Class, &d.UploadedAt, &meta, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ragerrors.ErrStorageUnavailable, err)
		}
		_ = json.Unmarshal(meta, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete document: %v", ragerrors.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ragerrors.ErrDocumentNotFound
	}
	return nil
}

func (s *postgresStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count documents: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return n, nil
}

func (s *postgresStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return n, nil
}

