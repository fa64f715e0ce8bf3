package embedding

import (
	"context"
	"log/slog"

	"github.com/verdictlabs/verdict/engine/internal/cache"
)

// CachedEmbedder wraps an Embedder with the SQLite embedding cache. Lookups
// key on the content hash plus the wrapped embedder's model so that switching
// models never serves stale vectors. Cache failures are best effort: reads
// fall through to the live embedder and write errors only log.
type CachedEmbedder struct {
	inner Embedder
	store *cache.Store
}

// NewCachedEmbedder wraps inner with store. A nil store returns inner
// unchanged.
func NewCachedEmbedder(inner Embedder, store *cache.Store) Embedder {
	if store == nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, store: store}
}

// Model returns the wrapped embedder's model name.
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Embed returns the cached vector for text when present, otherwise embeds
// live and stores the result.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := cache.ContentHash(text)
	if vec, err := e.store.GetEmbedding(hash, e.inner.Model()); err == nil && vec != nil {
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if putErr := e.store.PutEmbedding(hash, e.inner.Model(), vec); putErr != nil {
		slog.Warn("embedding cache write failed", "err", putErr)
	}
	return vec, nil
}
