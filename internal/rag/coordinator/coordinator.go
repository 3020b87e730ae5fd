// Package coordinator implements the Ingestion Coordinator (C7): it
// sequences extraction, chunking, embedding and persistence for one
// document, staging every side effect so a failure at any step leaves no
// trace (spec §4.7).
//
// Grounded on the teacher's documents.go upload handlers (content-addressed
// file placement, os.MkdirAll/os.Create) and its own internal/store for the
// staged-transaction commit/rollback shape.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/extract"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/chunker"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/embedder"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/rag/obs"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/store"
)

// Coordinator runs one ingest(binary, filename, class) -> Document call at
// a time per document-id; callers are responsible for not racing the same
// logical document (spec §4.7, §5).
type Coordinator struct {
	storagePath string
	store       store.Store
	embedder    embedder.Embedder
	chunkOpts   chunker.Options
	metrics     obs.Metrics
	logger      obs.Logger
}

// New constructs a Coordinator. chunkOpts should come from config.ChunkingConfig.
func New(storagePath string, st store.Store, emb embedder.Embedder, chunkOpts chunker.Options, metrics obs.Metrics, logger obs.Logger) *Coordinator {
	return &Coordinator{storagePath: storagePath, store: st, embedder: emb, chunkOpts: chunkOpts, metrics: metrics, logger: logger}
}

// ChunkOptionsFrom adapts the process configuration into chunker.Options.
func ChunkOptionsFrom(cfg config.ChunkingConfig) chunker.Options {
	return chunker.Options{SizeTokens: cfg.SizeTokens, OverlapTokens: cfg.OverlapTokens, MinTokens: cfg.MinTokens}
}

// Ingest runs the full pipeline for one document and returns its committed
// Document record, or an error classified per ragerrors.Kind.
func (c *Coordinator) Ingest(ctx context.Context, binary []byte, filename, class string) (store.Document, error) {
	kind, err := mimeKindFor(filename)
	if err != nil {
		return store.Document{}, err
	}
	if class == "" {
		class = "document"
	}

	docID := uuid.New()
	storedPath, err := c.persistBinary(docID, filename, binary)
	if err != nil {
		return store.Document{}, err
	}
	cleanupFile := func() { _ = os.RemoveAll(filepath.Dir(storedPath)) }

	ing, err := c.store.BeginIngestion(ctx, store.Document{
		ID:         docID,
		Name:       filename,
		StoredPath: storedPath,
		SizeBytes:  int64(len(binary)),
		MIMEKind:   string(kind),
		Class:      class,
	})
	if err != nil {
		cleanupFile()
		return store.Document{}, err
	}

	extraction, err := extract.Extract(binary, kind)
	if err != nil {
		_ = ing.Rollback(ctx)
		cleanupFile()
		return store.Document{}, err
	}

	pages := make([]chunker.PageInput, len(extraction.Pages))
	for i, p := range extraction.Pages {
		pages[i] = chunker.PageInput{PhysicalPosition: p.PhysicalPosition, RecoveredPageNumber: p.RecoveredPageNumber, Text: p.Text}
	}
	chunks := chunker.Chunk(pages, c.chunkOpts)
	if len(chunks) == 0 {
		_ = ing.Rollback(ctx)
		cleanupFile()
		return store.Document{}, ragerrors.ErrIngestionYieldedNothing
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		_ = ing.Rollback(ctx)
		cleanupFile()
		return store.Document{}, err
	}

	drafts := make([]store.DraftChunk, len(chunks))
	for i, ch := range chunks {
		drafts[i] = store.DraftChunk{
			ChunkIndex: i,
			Content:    ch.Content,
			TokenCount: ch.TokenCount,
			Embedding:  vectors[i],
			Metadata: store.ChunkMetadata{
				Page:             ch.Metadata.Page,
				PageExtracted:    ch.Metadata.PageExtracted,
				PhysicalPosition: ch.Metadata.PhysicalPosition,
				Section:          ch.Metadata.Section,
				DocumentName:     filename,
			},
		}
	}

	if err := ing.InsertChunks(ctx, drafts); err != nil {
		_ = ing.Rollback(ctx)
		cleanupFile()
		return store.Document{}, err
	}

	if err := ctx.Err(); err != nil {
		_ = ing.Rollback(ctx)
		cleanupFile()
		return store.Document{}, ragerrors.ErrCancelled
	}

	doc, err := ing.Commit(ctx)
	if err != nil {
		cleanupFile()
		return store.Document{}, err
	}
	doc.ChunkCount = len(drafts)

	if c.logger != nil {
		c.logger.Info("document ingested", map[string]any{"document_id": doc.ID.String(), "chunks": len(drafts)})
	}
	if c.metrics != nil {
		c.metrics.IncCounter("ingestion_documents_total", map[string]string{"class": class})
		c.metrics.ObserveHistogram("ingestion_chunk_count", float64(len(drafts)), nil)
	}

	return doc, nil
}

// Delete removes a document and its chunks, and best-effort removes its
// stored binary.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := c.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	_ = os.RemoveAll(filepath.Dir(doc.StoredPath))
	return nil
}

func (c *Coordinator) persistBinary(docID uuid.UUID, filename string, binary []byte) (string, error) {
	dir := filepath.Join(c.storagePath, docID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create storage dir: %v", ragerrors.ErrStorageUnavailable, err)
	}
	dst := filepath.Join(dir, filename)
	if err := os.WriteFile(dst, binary, 0644); err != nil {
		return "", fmt.Errorf("%w: write document: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return dst, nil
}

func mimeKindFor(filename string) (extract.MIMEKind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extract.MIMEPDF, nil
	case ".docx":
		return extract.MIMEDOCX, nil
	case ".txt", ".md":
		return extract.MIMEText, nil
	default:
		return "", fmt.Errorf("%w: %s", ragerrors.ErrUnsupportedMIME, filename)
	}
}
