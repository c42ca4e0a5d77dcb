// Package graph implements the traversal operations over the entity/relation
// graph store. Full multi-hop reachability is answered by a Datalog kernel
// (internal/mangle) using a recursive `path(X,Z) :- edge(X,Y), path(Y,Z).`
// rule; shortest_path and community_detect are plain Go algorithms over the
// same edge set, since neither weighted shortest paths nor partitioning are
// expressible as Datalog joins.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"agentmem/internal/logging"
	"agentmem/internal/mangle"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// graphSchema declares the Datalog facts/rules backing Neighbours' unbounded
// reachability query. Entity ids are carried as plain strings: the kernel
// stores them as /string constants, so fact args and parsed query literals
// compare equal.
const graphSchema = `
Decl edge(From, To, RelType) descr [mode("+", "-", "-")].
Decl connected(From, To) descr [mode("+", "-")].
connected(X, Y) :- edge(X, Y, T).
connected(X, Z) :- edge(X, Y, T), connected(Y, Z).
`

// Traverser answers neighbours/shortest_path/community_detect queries over a
// project's entity graph, loading storage.GraphStore's edges into a Mangle
// kernel for reachability and keeping a plain adjacency map for the
// algorithms Datalog can't express.
type Traverser struct {
	engine *mangle.Engine
	store  *storage.GraphStore

	loadedProject string
	adjacency     map[int64][]storage.Edge
}

// NewTraverser builds a Traverser backed by a fresh Mangle kernel.
func NewTraverser(store *storage.GraphStore) (*Traverser, error) {
	engine, err := mangle.NewEngine(mangle.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("graph: new mangle engine: %w", err)
	}
	if err := engine.LoadSchemaString(graphSchema); err != nil {
		return nil, fmt.Errorf("graph: load schema: %w", err)
	}
	return &Traverser{engine: engine, store: store}, nil
}

// LoadProject hydrates the Datalog kernel and the in-memory adjacency map
// from storage for one project. Call before Neighbours/ShortestPath/
// DetectCommunities; re-call after the graph has changed.
func (t *Traverser) LoadProject(ctx context.Context, project string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "LoadProject")
	defer timer.Stop()

	edges, err := t.store.AllEdges(ctx, project)
	if err != nil {
		return fmt.Errorf("graph: load edges: %w", err)
	}

	t.engine.Clear()

	facts := make([]mangle.Fact, 0, len(edges))
	adjacency := make(map[int64][]storage.Edge, len(edges))
	for _, e := range edges {
		facts = append(facts, mangle.Fact{
			Predicate: "edge",
			Args:      []interface{}{entityKey(e.From), entityKey(e.To), e.RelationType},
		})
		adjacency[e.From] = append(adjacency[e.From], e)
	}
	if len(facts) > 0 {
		if err := t.engine.AddFacts(facts); err != nil {
			return fmt.Errorf("graph: add facts: %w", err)
		}
	}

	t.loadedProject = project
	t.adjacency = adjacency
	logging.Get(logging.CategoryGraph).Info("LoadProject: project=%s edges=%d", project, len(edges))
	return nil
}

func entityKey(id int64) string { return strconv.FormatInt(id, 10) }

// Neighbours returns entities reachable from entityID. maxHops <= 0 asks the
// Datalog kernel for the full transitive closure (connected/2); maxHops > 0
// does a bounded Go BFS instead, since Datalog's recursive rule has no
// built-in depth limit.
func (t *Traverser) Neighbours(ctx context.Context, project string, entityID int64, maxHops int) ([]types.Entity, error) {
	if t.loadedProject != project {
		if err := t.LoadProject(ctx, project); err != nil {
			return nil, err
		}
	}

	var ids []int64
	if maxHops > 0 {
		ids = t.bfsWithinHops(entityID, maxHops)
	} else {
		var err error
		ids, err = t.queryConnected(ctx, entityID)
		if err != nil {
			return nil, err
		}
	}

	out := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := t.store.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (t *Traverser) queryConnected(ctx context.Context, entityID int64) ([]int64, error) {
	query := fmt.Sprintf("connected(%q, Y)", entityKey(entityID))
	result, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("graph: query connected: %w", err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, binding := range result.Bindings {
		raw, ok := binding["Y"]
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(fmt.Sprintf("%v", raw), 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *Traverser) bfsWithinHops(start int64, maxHops int) []int64 {
	visited := map[int64]bool{start: true}
	frontier := []int64{start}
	var out []int64

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []int64
		for _, id := range frontier {
			for _, e := range t.adjacency[id] {
				if visited[e.To] {
					continue
				}
				visited[e.To] = true
				out = append(out, e.To)
				next = append(next, e.To)
			}
		}
		frontier = next
	}
	return out
}

// ShortestPath finds the unweighted shortest hop path between two entities
// via BFS over storage.GraphStore's edges. Not expressed in Datalog: Mangle
// can derive reachability but has no notion of "shortest" among derivations.
func (t *Traverser) ShortestPath(ctx context.Context, project string, from, to int64) ([]int64, error) {
	if t.loadedProject != project {
		if err := t.LoadProject(ctx, project); err != nil {
			return nil, err
		}
	}
	if from == to {
		return []int64{from}, nil
	}

	prev := map[int64]int64{from: from}
	queue := []int64{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return reconstructPath(prev, from, to), nil
		}
		for _, e := range t.adjacency[cur] {
			if _, ok := prev[e.To]; ok {
				continue
			}
			prev[e.To] = cur
			queue = append(queue, e.To)
		}
	}
	return nil, types.NewError(types.ErrNotFound, false, "no path between entity %d and %d", from, to)
}

func reconstructPath(prev map[int64]int64, from, to int64) []int64 {
	path := []int64{to}
	cur := to
	for cur != from {
		cur = prev[cur]
		path = append(path, cur)
	}
	// reverse
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// DetectCommunities partitions the project's entities via weighted label
// propagation over the undirected projection: every entity starts in its
// own community, then repeatedly adopts the label carrying the highest
// total strength*confidence among its neighbours until labels stabilize
// (or a bounded number of rounds elapses). Not Datalog-expressible:
// partitioning requires comparing label weights across iterations, not a
// fixpoint join.
func (t *Traverser) DetectCommunities(ctx context.Context, project string) (map[int64]int, error) {
	if t.loadedProject != project {
		if err := t.LoadProject(ctx, project); err != nil {
			return nil, err
		}
	}

	entities, err := t.store.AllEntities(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("graph: load entities: %w", err)
	}

	// Undirected projection with each edge weighted by strength*confidence,
	// so a confident strong relation outvotes a pile of weak ones.
	type weightedNeighbour struct {
		id     int64
		weight float64
	}
	undirected := make(map[int64][]weightedNeighbour, len(entities))
	addEdge := func(a, b int64, w float64) {
		undirected[a] = append(undirected[a], weightedNeighbour{id: b, weight: w})
	}
	for from, edges := range t.adjacency {
		for _, e := range edges {
			w := e.Strength * e.Confidence
			addEdge(from, e.To, w)
			addEdge(e.To, from, w)
		}
	}

	labels := make(map[int64]int, len(entities))
	for i, e := range entities {
		labels[e.ID] = i
	}

	const maxRounds = 20
	for round := 0; round < maxRounds; round++ {
		changed := false
		ids := make([]int64, 0, len(entities))
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			neighbours := undirected[id]
			if len(neighbours) == 0 {
				continue
			}
			weights := make(map[int]float64, len(neighbours))
			for _, n := range neighbours {
				weights[labels[n.id]] += n.weight
			}
			best, bestWeight := labels[id], -1.0
			for label, weight := range weights {
				if weight > bestWeight || (weight == bestWeight && label < best) {
					best, bestWeight = label, weight
				}
			}
			if best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	for id, label := range labels {
		if err := t.store.SetEntityCommunity(ctx, id, label); err != nil {
			logging.Get(logging.CategoryGraph).Warn("DetectCommunities: set community for entity %d: %v", id, err)
		}
	}
	return labels, nil
}
