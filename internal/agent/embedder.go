package agent

import (
	"context"
	"fmt"

	"memoryd/internal/config"
	"memoryd/internal/embedding"
	"memoryd/internal/persistence/databases"
)

// VectorEmbedder adapts the embedding client and a databases.VectorStore
// into the Embedder the Runner calls after every StoreObservations write,
// per spec.md §4.1: "any query path that uses [VectorIndex] must also
// succeed ... when the index is empty or unreachable" — so Embed errors are
// always non-fatal to the caller.
type VectorEmbedder struct {
	cfg   config.EmbeddingConfig
	store databases.VectorStore
}

func NewVectorEmbedder(cfg config.EmbeddingConfig, store databases.VectorStore) *VectorEmbedder {
	return &VectorEmbedder{cfg: cfg, store: store}
}

func (e *VectorEmbedder) Embed(ctx context.Context, kind string, id int64, text string) error {
	if e == nil || e.store == nil || text == "" {
		return nil
	}
	vecs, err := embedding.EmbedText(ctx, e.cfg, []string{text})
	if err != nil {
		return fmt.Errorf("embed %s %d: %w", kind, id, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed %s %d: no vector returned", kind, id)
	}
	pointID := fmt.Sprintf("%s:%d", kind, id)
	return e.store.Upsert(ctx, pointID, vecs[0], map[string]string{"kind": kind, "id": fmt.Sprintf("%d", id)})
}
