package store

import (
	"context"
	"fmt"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// New builds the Chunk Store selected by cfg.DB.Vector.Backend
// ("postgres", the default, or "qdrant").
func New(ctx context.Context, cfg config.DBConfig) (Store, error) {
	dsn := cfg.Vector.DSN
	if dsn == "" {
		dsn = cfg.DefaultDSN
	}
	switch cfg.Vector.Backend {
	case "", "postgres":
		return NewPostgres(ctx, dsn, cfg.Vector.Dimensions)
	case "qdrant":
		pgDSN := cfg.DefaultDSN
		if pgDSN == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL required alongside VECTOR_BACKEND=qdrant", ragerrors.ErrStorageUnavailable)
		}
		return NewQdrantBacked(ctx, pgDSN, dsn, "document_chunks", cfg.Vector.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ragerrors.ErrStorageUnavailable, cfg.Vector.Backend)
	}
}
