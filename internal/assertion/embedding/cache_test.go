package embedding_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/verdictlabs/verdict/engine/internal/assertion/embedding"
	"github.com/verdictlabs/verdict/engine/internal/cache"
)

// countingEmbedder returns a fixed vector and counts live calls.
type countingEmbedder struct {
	model string
	vec   []float32
	err   error
	calls int
}

func (c *countingEmbedder) Model() string { return c.model }

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func newTestCacheStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 10)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCachedEmbedder_SecondCallServedFromCache(t *testing.T) {
	store := newTestCacheStore(t)
	inner := &countingEmbedder{model: "test-model", vec: []float32{0.5, 0.25}}
	embedder := embedding.NewCachedEmbedder(inner, store)

	ctx := context.Background()
	first, err := embedder.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	second, err := embedder.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 live call, got %d", inner.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("vector length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("dim %d: cached %f != live %f", i, second[i], first[i])
		}
	}
}

func TestCachedEmbedder_DistinctTextsEmbedSeparately(t *testing.T) {
	store := newTestCacheStore(t)
	inner := &countingEmbedder{model: "test-model", vec: []float32{1}}
	embedder := embedding.NewCachedEmbedder(inner, store)

	ctx := context.Background()
	if _, err := embedder.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("Embed alpha: %v", err)
	}
	if _, err := embedder.Embed(ctx, "beta"); err != nil {
		t.Fatalf("Embed beta: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 live calls for distinct texts, got %d", inner.calls)
	}
}

func TestCachedEmbedder_ModelIsolation(t *testing.T) {
	store := newTestCacheStore(t)
	small := &countingEmbedder{model: "small", vec: []float32{1, 0}}
	large := &countingEmbedder{model: "large", vec: []float32{0, 1}}

	ctx := context.Background()
	if _, err := embedding.NewCachedEmbedder(small, store).Embed(ctx, "same text"); err != nil {
		t.Fatalf("small Embed: %v", err)
	}
	vec, err := embedding.NewCachedEmbedder(large, store).Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("large Embed: %v", err)
	}

	if large.calls != 1 {
		t.Errorf("large model should not be served from small model's entry (calls=%d)", large.calls)
	}
	if vec[0] != 0 || vec[1] != 1 {
		t.Errorf("got small model's vector for large model: %v", vec)
	}
}

func TestCachedEmbedder_ErrorNotCached(t *testing.T) {
	store := newTestCacheStore(t)
	inner := &countingEmbedder{model: "test-model", err: errors.New("provider down")}
	embedder := embedding.NewCachedEmbedder(inner, store)

	ctx := context.Background()
	if _, err := embedder.Embed(ctx, "text"); err == nil {
		t.Fatal("expected error from inner embedder, got nil")
	}

	inner.err = nil
	inner.vec = []float32{0.7}
	vec, err := embedder.Embed(ctx, "text")
	if err != nil {
		t.Fatalf("Embed after recovery: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("failed call should not populate the cache (calls=%d)", inner.calls)
	}
	if vec[0] != 0.7 {
		t.Errorf("unexpected vector after recovery: %v", vec)
	}
}

func TestCachedEmbedder_NilStorePassthrough(t *testing.T) {
	inner := &countingEmbedder{model: "test-model", vec: []float32{1}}
	embedder := embedding.NewCachedEmbedder(inner, nil)
	if embedder != embedding.Embedder(inner) {
		t.Error("nil store should return the inner embedder unchanged")
	}
}

func TestCachedEmbedder_ModelDelegation(t *testing.T) {
	store := newTestCacheStore(t)
	inner := &countingEmbedder{model: "MiniLM", vec: []float32{1}}
	embedder := embedding.NewCachedEmbedder(inner, store)
	if embedder.Model() != "MiniLM" {
		t.Errorf("Model() = %q, want MiniLM", embedder.Model())
	}
}
