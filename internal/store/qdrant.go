package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// qdrantANN is the alternate ANN backend for VECTOR_BACKEND=qdrant
// (spec §4.6): chunk rows and their embeddings still live in Postgres for
// transactional staging, but KNN queries are served by a Qdrant collection
// whose points are upserted as chunks are inserted and removed again on
// rollback or document delete. Grounded on the teacher's
// internal/persistence/databases.qdrantVector (gRPC client construction,
// collection bootstrap, dense-vector upsert/query).
type qdrantANN struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

func newQdrantANN(dsn, collection string, dimension int) (*qdrantANN, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse qdrant dsn: %v", ragerrors.ErrStorageUnavailable, err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid qdrant port: %v", ragerrors.ErrStorageUnavailable, err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := parsed.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %v", ragerrors.ErrStorageUnavailable, err)
	}
	q := &qdrantANN{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *qdrantANN) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", ragerrors.ErrStorageUnavailable, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (q *qdrantANN) upsert(ctx context.Context, chunkID uuid.UUID, vector []float32) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(chunkID.String()),
		Vectors: qdrant.NewVectorsDense(vec),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	if err != nil {
		return fmt.Errorf("%w: qdrant upsert: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (q *qdrantANN) deleteByPoints(ctx context.Context, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = qdrant.NewIDUUID(id.String())
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant delete: %v", ragerrors.ErrStorageUnavailable, err)
	}
	return nil
}

// search returns chunk ids ranked by cosine similarity.
func (q *qdrantANN) search(ctx context.Context, vector []float32, k int) ([]uuid.UUID, []float64, error) {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: qdrant query: %v", ragerrors.ErrStorageUnavailable, err)
	}
	ids := make([]uuid.UUID, 0, len(hits))
	scores := make([]float64, 0, len(hits))
	for _, hit := range hits {
		raw := hit.Id.GetUuid()
		if raw == "" {
			raw = hit.Id.String()
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scores = append(scores, float64(hit.Score))
	}
	return ids, scores, nil
}

func (q *qdrantANN) close() { _ = q.client.Close() }

// hybridStore delegates document/chunk persistence to Postgres but serves
// KNN through Qdrant, upserting points at chunk insert and removing them
// on rollback and document delete.
type hybridStore struct {
	*postgresStore
	ann *qdrantANN
}

// NewQdrantBacked wraps a Postgres-backed Store with a Qdrant ANN index,
// selected by VECTOR_BACKEND=qdrant.
func NewQdrantBacked(ctx context.Context, pgDSN, qdrantDSN, collection string, dimension int) (Store, error) {
	pg, err := NewPostgres(ctx, pgDSN, dimension)
	if err != nil {
		return nil, err
	}
	ps, ok := pg.(*postgresStore)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected postgres store type", ragerrors.ErrStorageUnavailable)
	}
	ann, err := newQdrantANN(qdrantDSN, collection, dimension)
	if err != nil {
		ps.Close()
		return nil, err
	}
	return &hybridStore{postgresStore: ps, ann: ann}, nil
}

func (h *hybridStore) BeginIngestion(ctx context.Context, doc Document) (Ingestion, error) {
	base, err := h.postgresStore.BeginIngestion(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &hybridIngestion{base: base.(*pgIngestion), ann: h.ann}, nil
}

type hybridIngestion struct {
	base        *pgIngestion
	ann         *qdrantANN
	upsertedIDs []uuid.UUID
}

func (h *hybridIngestion) InsertChunks(ctx context.Context, chunks []DraftChunk) error {
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
	}
	if err := h.base.InsertChunks(ctx, chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := h.ann.upsert(ctx, c.ID, c.Embedding); err != nil {
			return err
		}
		h.upsertedIDs = append(h.upsertedIDs, c.ID)
	}
	return nil
}

func (h *hybridIngestion) Commit(ctx context.Context) (Document, error) {
	return h.base.Commit(ctx)
}

func (h *hybridIngestion) Rollback(ctx context.Context) error {
	if err := h.ann.deleteByPoints(ctx, h.upsertedIDs); err != nil {
		return err
	}
	return h.base.Rollback(ctx)
}

func (h *hybridStore) KNN(ctx context.Context, queryVector []float32, k int) ([]ScoredChunk, error) {
	ids, scores, err := h.ann.search(ctx, queryVector, k)
	if err != nil {
		return nil, err
	}
	chunks, err := h.postgresStore.FetchChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	out := make([]ScoredChunk, 0, len(ids))
	for i, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Similarity: scores[i]})
	}
	return out, nil
}

func (h *hybridStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	chunks, err := h.postgresStore.pool.Query(ctx, `SELECT id FROM document_chunks WHERE document_id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: list chunks for delete: %v", ragerrors.ErrStorageUnavailable, err)
	}
	var ids []uuid.UUID
	for chunks.Next() {
		var cid uuid.UUID
		if err := chunks.Scan(&cid); err == nil {
			ids = append(ids, cid)
		}
	}
	chunks.Close()

	if err := h.postgresStore.DeleteDocument(ctx, id); err != nil {
		return err
	}
	return h.ann.deleteByPoints(ctx, ids)
}

func (h *hybridStore) Close() {
	h.postgresStore.Close()
	h.ann.close()
}
