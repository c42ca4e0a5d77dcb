package consolidation

import (
	"context"
	"math"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// conflictSimilarityThreshold is the cosine-similarity floor above which two
// memories are considered near-duplicates worth checking for contradiction.
const conflictSimilarityThreshold = 0.92

// DetectConflicts scans a project's semantic memories pairwise and flags
// near-duplicates whose tags or quality diverge enough to suggest they
// contradict rather than corroborate each other.
func DetectConflicts(ctx context.Context, store *storage.Store, project string) ([]storage.MemoryConflict, error) {
	memories, err := store.Semantic.All(ctx, project)
	if err != nil {
		return nil, err
	}
	var flagged []storage.MemoryConflict
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a, b := memories[i], memories[j]
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 || len(a.Embedding) != len(b.Embedding) {
				continue
			}
			sim := cosineSimilarity(a.Embedding, b.Embedding)
			if sim < conflictSimilarityThreshold {
				continue
			}
			reason, contradicts := contradiction(a, b)
			if !contradicts {
				continue
			}
			c := &storage.MemoryConflict{
				ProjectID:  project,
				MemoryIDA:  a.ID,
				MemoryIDB:  b.ID,
				Similarity: sim,
				Reason:     reason,
			}
			if _, err := store.Consolidation.CreateConflict(ctx, c); err != nil {
				return nil, err
			}
			flagged = append(flagged, *c)
		}
	}
	return flagged, nil
}

func contradiction(a, b types.Memory) (string, bool) {
	if math.Abs(a.Quality-b.Quality) > 0.4 {
		return "quality divergence on near-duplicate content", true
	}
	if hasContradictoryTags(a.Tags, b.Tags) {
		return "contradictory tags on near-duplicate content", true
	}
	return "", false
}

var contradictoryTagPairs = [][2]string{
	{"works", "broken"},
	{"deprecated", "recommended"},
	{"success", "failure"},
}

func hasContradictoryTags(a, b []string) bool {
	for _, pair := range contradictoryTagPairs {
		if (hasTag(a, pair[0]) && hasTag(b, pair[1])) || (hasTag(a, pair[1]) && hasTag(b, pair[0])) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
