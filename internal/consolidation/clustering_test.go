package consolidation

import (
	"testing"
	"time"

	"agentmem/internal/types"
)

func TestBuildClustersBySimilarity(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []types.Event{
		{ID: 1, SessionID: "s1", Timestamp: base, Content: "a", Embedding: []float32{1, 0, 0}},
		{ID: 2, SessionID: "s1", Timestamp: base.Add(time.Minute), Content: "b", Embedding: []float32{1, 0, 0}},
		{ID: 3, SessionID: "s1", Timestamp: base.Add(2 * time.Hour), Content: "c", Embedding: []float32{0, 1, 0}},
	}

	clusters := Build(events, 0.3, 30*time.Minute)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(clusters), clusters)
	}

	var sizes []int
	for _, c := range clusters {
		sizes = append(sizes, len(c.Events))
	}
	foundPair := false
	for _, s := range sizes {
		if s == 2 {
			foundPair = true
		}
	}
	if !foundPair {
		t.Fatalf("expected one cluster of size 2, got sizes %v", sizes)
	}
}

func TestBuildEmptyInput(t *testing.T) {
	if clusters := Build(nil, 0.3, time.Minute); clusters != nil {
		t.Fatalf("expected nil for empty input, got %+v", clusters)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim != 1 {
		t.Errorf("identical vectors: got %f, want 1", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0 {
		t.Errorf("orthogonal vectors: got %f, want 0", sim)
	}
}
