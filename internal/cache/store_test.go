package cache_test

import (
	"path/filepath"
	"testing"

	"github.com/verdictlabs/verdict/engine/internal/cache"
)

func newTestStore(t *testing.T, maxMB int) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "test.db"), maxMB)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmbeddingPutGet(t *testing.T) {
	s := newTestStore(t, 10)
	hash := cache.ContentHash("hello world")
	model := "text-embedding-3-small"
	vec := []float32{0.1, 0.2, 0.3, 0.4}

	if err := s.PutEmbedding(hash, model, vec); err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}

	got, err := s.GetEmbedding(hash, model)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached vector, got nil")
	}
	if len(got) != len(vec) {
		t.Fatalf("vector length: got %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vector[%d]: got %f, want %f", i, got[i], vec[i])
		}
	}
}

func TestEmbeddingMiss(t *testing.T) {
	s := newTestStore(t, 10)
	got, err := s.GetEmbedding("nonexistent", "model")
	if err != nil {
		t.Fatalf("GetEmbedding on miss: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %v", got)
	}
}

func TestEmbeddingModelIsolation(t *testing.T) {
	s := newTestStore(t, 10)
	hash := cache.ContentHash("same text")

	if err := s.PutEmbedding(hash, "model-a", []float32{1.0, 0.0}); err != nil {
		t.Fatalf("PutEmbedding model-a: %v", err)
	}
	if err := s.PutEmbedding(hash, "model-b", []float32{0.0, 1.0}); err != nil {
		t.Fatalf("PutEmbedding model-b: %v", err)
	}

	gotA, _ := s.GetEmbedding(hash, "model-a")
	gotB, _ := s.GetEmbedding(hash, "model-b")

	if gotA == nil || gotA[0] != 1.0 {
		t.Errorf("model-a vector wrong: %v", gotA)
	}
	if gotB == nil || gotB[1] != 1.0 {
		t.Errorf("model-b vector wrong: %v", gotB)
	}
}

func TestEmbeddingUpsert(t *testing.T) {
	s := newTestStore(t, 10)
	hash := cache.ContentHash("upsert test")

	if err := s.PutEmbedding(hash, "model", []float32{1.0}); err != nil {
		t.Fatalf("first PutEmbedding: %v", err)
	}
	if err := s.PutEmbedding(hash, "model", []float32{2.0}); err != nil {
		t.Fatalf("second PutEmbedding: %v", err)
	}

	got, _ := s.GetEmbedding(hash, "model")
	if got == nil || got[0] != 2.0 {
		t.Errorf("expected updated vector 2.0, got %v", got)
	}

	stats, _ := s.Stats()
	if stats.EmbeddingEntries != 1 {
		t.Errorf("upsert should not create duplicate entries; got %d", stats.EmbeddingEntries)
	}
}

func TestVerdictPutGet(t *testing.T) {
	s := newTestStore(t, 10)
	key := cache.VerdictKey("gpt-4.1-mini", "default", "the output under judgment")

	want := &cache.Verdict{Score: 0.85, Reason: "clear and accurate", Model: "gpt-4.1-mini"}
	if err := s.PutVerdict(key, want); err != nil {
		t.Fatalf("PutVerdict: %v", err)
	}

	got, err := s.GetVerdict(key)
	if err != nil {
		t.Fatalf("GetVerdict: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached verdict, got nil")
	}
	if got.Score != want.Score || got.Reason != want.Reason || got.Model != want.Model {
		t.Errorf("verdict: got %+v, want %+v", got, want)
	}
}

func TestVerdictMiss(t *testing.T) {
	s := newTestStore(t, 10)
	got, err := s.GetVerdict(cache.VerdictKey("m", "r", "never judged"))
	if err != nil {
		t.Fatalf("GetVerdict on miss: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestVerdictKeySensitivity(t *testing.T) {
	base := cache.VerdictKey("model", "rubric", "content")
	if cache.VerdictKey("other", "rubric", "content") == base {
		t.Error("key must vary with model")
	}
	if cache.VerdictKey("model", "other", "content") == base {
		t.Error("key must vary with rubric")
	}
	if cache.VerdictKey("model", "rubric", "other") == base {
		t.Error("key must vary with content")
	}
	if cache.VerdictKey("model", "rubric", "content") != base {
		t.Error("key must be deterministic")
	}
}

func TestStoreStatsAndClear(t *testing.T) {
	s := newTestStore(t, 10)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats empty: %v", err)
	}
	if stats.EmbeddingEntries != 0 || stats.VerdictEntries != 0 {
		t.Errorf("empty store stats: %+v", stats)
	}

	if err := s.PutEmbedding(cache.ContentHash("a"), "model", []float32{1.0, 2.0}); err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}
	if err := s.PutVerdict(cache.VerdictKey("m", "r", "a"), &cache.Verdict{Score: 1, Reason: "ok", Model: "m"}); err != nil {
		t.Fatalf("PutVerdict: %v", err)
	}

	stats, err = s.Stats()
	if err != nil {
		t.Fatalf("Stats after puts: %v", err)
	}
	if stats.EmbeddingEntries != 1 || stats.VerdictEntries != 1 {
		t.Errorf("stats after puts: %+v", stats)
	}
	if stats.TotalBytes == 0 {
		t.Error("TotalBytes should be > 0 after puts")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, _ = s.Stats()
	if stats.EmbeddingEntries != 0 || stats.VerdictEntries != 0 {
		t.Errorf("stats after clear: %+v", stats)
	}
}

func TestEmbeddingEviction(t *testing.T) {
	// maxMB=0 means every insert triggers eviction of older entries.
	s := newTestStore(t, 0)

	for i := 0; i < 5; i++ {
		hash := cache.ContentHash(string(rune('a' + i)))
		vec := make([]float32, 128)
		for j := range vec {
			vec[j] = float32(i)
		}
		if err := s.PutEmbedding(hash, "model", vec); err != nil {
			t.Fatalf("PutEmbedding %d: %v", i, err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.EmbeddingEntries > 0 {
		t.Errorf("expected 0 entries with maxMB=0, got %d", stats.EmbeddingEntries)
	}
}

func TestVerdictEvictionKeepsRecent(t *testing.T) {
	s := newTestStore(t, 0)

	for i := 0; i < 5; i++ {
		key := cache.VerdictKey("m", "r", string(rune('a'+i)))
		if err := s.PutVerdict(key, &cache.Verdict{Score: 0.5, Reason: "r", Model: "m"}); err != nil {
			t.Fatalf("PutVerdict %d: %v", i, err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.VerdictEntries > 0 {
		t.Errorf("expected 0 verdicts with maxMB=0, got %d", stats.VerdictEntries)
	}
}

func TestContentHashDeterministic(t *testing.T) {
	if cache.ContentHash("hello") != cache.ContentHash("hello") {
		t.Error("ContentHash is not deterministic")
	}
	if cache.ContentHash("hello") == cache.ContentHash("world") {
		t.Error("ContentHash should differ for different inputs")
	}
}
