package consolidation

import (
	"math"
	"sort"
	"time"

	"agentmem/internal/types"
)

// Cluster is a group of episodic events judged close enough (by the
// composite proximity of step 2) to share a candidate pattern.
type Cluster struct {
	Key    string
	Events []types.Event
}

// clusterWeights combine temporal, session-identity, and embedding distance
// into the single weighted distance compared against tau1. Embedding
// similarity is weighted most heavily since it is the strongest same-topic
// signal, with temporal and session identity as secondary corroborating
// signals.
const (
	weightTemporal = 0.3
	weightSession  = 0.2
	weightEmbed    = 0.5
)

// disjointSet is a standard union-find over event indices.
type disjointSet struct {
	parent []int
}

func newDisjointSet(n int) *disjointSet {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &disjointSet{parent: p}
}

func (d *disjointSet) find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra != rb {
		d.parent[ra] = rb
	}
}

// pairDistance computes the composite weighted distance between two
// events: temporal decay, session identity, and cosine similarity on
// embeddings.
func pairDistance(a, b types.Event, halfLife time.Duration) float64 {
	dt := a.Timestamp.Sub(b.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	var temporalDist float64
	if halfLife > 0 {
		decay := math.Pow(0.5, dt.Minutes()/halfLife.Minutes())
		temporalDist = 1 - decay
	} else {
		temporalDist = 1
	}

	sessionDist := 0.0
	if a.SessionID != b.SessionID {
		sessionDist = 1
	}

	embedDist := 0.5 // neutral prior when embeddings are unavailable
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		embedDist = 1 - cosineSimilarity(a.Embedding, b.Embedding)
	}

	return weightTemporal*temporalDist + weightSession*sessionDist + weightEmbed*embedDist
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// windowSize bounds the number of prior events each event is compared
// against once sorted by time, keeping the clustering pass near O(n log n)
// rather than full O(n^2) pairwise comparison.
// A genuine LSH index is overkill at single-project, single-session scale;
// a time-sorted sliding window achieves the same practical bound since
// events outside it have decayed temporal proximity toward 1 anyway.
const windowSize = 50

// Build groups events into clusters by single-linkage union-find over the
// composite distance, joining a pair when their weighted distance is below
// tau1.
func Build(events []types.Event, tau1 float64, halfLife time.Duration) []Cluster {
	if len(events) == 0 {
		return nil
	}
	sorted := make([]types.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	ds := newDisjointSet(len(sorted))
	for i := range sorted {
		start := i - windowSize
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			if pairDistance(sorted[i], sorted[j], halfLife) < tau1 {
				ds.union(i, j)
			}
		}
	}

	groups := make(map[int][]types.Event)
	for i, e := range sorted {
		root := ds.find(i)
		groups[root] = append(groups[root], e)
	}

	clusters := make([]Cluster, 0, len(groups))
	for root, evs := range groups {
		clusters = append(clusters, Cluster{Key: clusterKey(root, evs), Events: evs})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Key < clusters[j].Key })
	return clusters
}

func clusterKey(root int, events []types.Event) string {
	if len(events) == 0 {
		return ""
	}
	return events[0].SessionID + ":" + events[0].Timestamp.Format(time.RFC3339)
}
