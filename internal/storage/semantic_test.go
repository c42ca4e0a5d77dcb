package storage

import (
	"context"
	"testing"

	"agentmem/internal/types"
)

func storeMemory(t *testing.T, s *Store, content string, embedding []float32, quality float64) int64 {
	t.Helper()
	id, err := s.Semantic.Store(context.Background(), &types.Memory{
		ProjectID:  "proj1",
		Content:    content,
		MemoryType: types.MemoryFact,
		Quality:    quality,
		Embedding:  embedding,
	})
	if err != nil {
		t.Fatalf("Store(%q) error = %v", content, err)
	}
	return id
}

func TestStoreThenSearchReturnsIt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id := storeMemory(t, s, "JWT tokens need TTL checking", nil, 0.8)
	storeMemory(t, s, "Log rotation uses daily index", nil, 0.8)

	hits, err := s.Semantic.HybridSearch(ctx, "JWT TTL checking", nil, "proj1", MemoryFilters{}, 1, 3, 60)
	if err != nil {
		t.Fatalf("HybridSearch() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("stored memory not found by its own content")
	}
	if hits[0].Memory.ID != id {
		t.Fatalf("top hit = %d, want %d", hits[0].Memory.ID, id)
	}
}

func TestHybridSearchFusesBothPaths(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Ma: strong lexical match, orthogonal embedding.
	// Mb: no lexical overlap, embedding aligned with the query.
	ma := storeMemory(t, s, "token expiry handling for sessions", []float32{0, 1, 0}, 0.5)
	mb := storeMemory(t, s, "credentials lapse after a fixed interval", []float32{1, 0, 0}, 0.5)

	hits, err := s.Semantic.HybridSearch(ctx, "token expiry", []float32{1, 0, 0}, "proj1", MemoryFilters{}, 2, 3, 60)
	if err != nil {
		t.Fatalf("HybridSearch() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both memories in the fused result, got %d", len(hits))
	}

	found := map[int64]ScoredMemory{}
	for _, h := range hits {
		found[h.Memory.ID] = h
	}
	if found[ma].LexicalScore <= found[mb].LexicalScore {
		t.Error("lexical path did not favour the keyword match")
	}
	if found[mb].SemanticScore <= found[ma].SemanticScore {
		t.Error("semantic path did not favour the aligned embedding")
	}
	for id, h := range found {
		if h.RankFusionScore <= 0 {
			t.Errorf("memory %d has non-positive fusion score", id)
		}
	}
}

func TestVecDistanceFunctionAvailable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var distance float64
	err := s.DB.QueryRowContext(ctx, "SELECT vec_distance_cos(?, ?)",
		encodeEmbedding([]float32{1, 0, 0}), encodeEmbedding([]float32{1, 0, 0})).Scan(&distance)
	if err != nil {
		t.Fatalf("vec_distance_cos not registered: %v", err)
	}
	if distance != 0 {
		t.Errorf("identical vectors: distance = %f, want 0", distance)
	}

	err = s.DB.QueryRowContext(ctx, "SELECT vec_distance_cos(?, ?)",
		encodeEmbedding([]float32{1, 0, 0}), encodeEmbedding([]float32{0, 1, 0})).Scan(&distance)
	if err != nil {
		t.Fatalf("vec_distance_cos error = %v", err)
	}
	if distance != 1 {
		t.Errorf("orthogonal vectors: distance = %f, want 1", distance)
	}
}

func TestSemanticPushdownMatchesInProcessScan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	storeMemory(t, s, "closest", []float32{1, 0, 0}, 0.5)
	storeMemory(t, s, "near", []float32{0.8, 0.6, 0}, 0.5)
	storeMemory(t, s, "far", []float32{0, 0, 1}, 0.5)
	storeMemory(t, s, "no embedding", nil, 0.5)

	query := []float32{1, 0, 0}
	pushed := s.Semantic.rankBySemanticVec(ctx, "proj1", query, 10)
	if pushed == nil {
		t.Fatal("pushdown unavailable on the default build")
	}

	candidates, err := s.Semantic.All(ctx, "proj1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	scanned := rankBySemantic(candidates, query, 10)

	if len(pushed) != len(scanned) {
		t.Fatalf("pushdown ranked %d memories, scan ranked %d", len(pushed), len(scanned))
	}
	for id, want := range scanned {
		got, ok := pushed[id]
		if !ok {
			t.Fatalf("memory %d missing from pushdown ranking", id)
		}
		if got.rank != want.rank {
			t.Errorf("memory %d: pushdown rank %d, scan rank %d", id, got.rank, want.rank)
		}
		if diff := got.score - want.score; diff < -1e-6 || diff > 1e-6 {
			t.Errorf("memory %d: pushdown score %f, scan score %f", id, got.score, want.score)
		}
	}
}

func TestTouchAccessBumpsCounters(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	id := storeMemory(t, s, "prefer table-driven tests", nil, 0.9)
	if err := s.Semantic.TouchAccess(ctx, id); err != nil {
		t.Fatalf("TouchAccess() error = %v", err)
	}

	m, err := s.Semantic.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if m.AccessCount != 1 {
		t.Errorf("access_count = %d, want 1", m.AccessCount)
	}
	if !m.LastAccessed.Equal(c.Now()) {
		t.Errorf("last_accessed = %v, want %v", m.LastAccessed, c.Now())
	}
}

func TestMemoryFiltersNarrowCandidates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Semantic.Store(ctx, &types.Memory{
		ProjectID: "proj1", Content: "retry transient network errors", MemoryType: types.MemoryPrinciple,
		Domains: []string{"networking"},
	}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := s.Semantic.Store(ctx, &types.Memory{
		ProjectID: "proj1", Content: "retry flaky browser tests once", MemoryType: types.MemoryPattern,
		Domains: []string{"testing"},
	}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	hits, err := s.Semantic.HybridSearch(ctx, "retry", nil, "proj1",
		MemoryFilters{Domains: []string{"networking"}}, 10, 3, 60)
	if err != nil {
		t.Fatalf("HybridSearch() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("domain filter returned %d hits, want 1", len(hits))
	}
	if hits[0].Memory.MemoryType != types.MemoryPrinciple {
		t.Errorf("wrong memory passed the filter: %+v", hits[0].Memory)
	}
}
