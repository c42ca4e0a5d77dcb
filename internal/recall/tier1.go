package recall

import (
	"context"
	"strings"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// tier1 runs the layer-local searches of Tier 1: the semantic
// store always, plus whichever layer the query_type selects. Each layer is
// capped at over_fetch*k candidates.
func (r *Router) tier1(ctx context.Context, req Request, qt QueryType, queryEmbedding []float32, fanout int) ([]Item, map[Layer]int) {
	counts := make(map[Layer]int)
	var items []Item

	semanticHits, err := r.Store.Semantic.HybridSearch(ctx, req.QueryText, queryEmbedding, req.Project, storage.MemoryFilters{}, fanout, 1, r.Cfg.RRFK)
	if err == nil {
		for _, h := range semanticHits {
			items = append(items, memoryToItem(h))
		}
		counts[LayerSemantic] = len(semanticHits)
	}

	switch qt {
	case TypeTemporal:
		hits := r.episodicKeywordSearch(ctx, req.Project, req.QueryText, fanout)
		for _, e := range hits {
			items = append(items, eventToItem(e))
		}
		counts[LayerEpisodic] = len(hits)
	case TypeProcedural:
		hits := r.proceduralSearch(ctx, req.Project, req.QueryText, fanout)
		for _, p := range hits {
			items = append(items, procedureToItem(p))
		}
		counts[LayerProcedural] = len(hits)
	case TypeProspective:
		tasks, err := r.Store.Tasks.Pending(ctx, req.Project)
		if err == nil {
			if len(tasks) > fanout {
				tasks = tasks[:fanout]
			}
			for _, t := range tasks {
				items = append(items, taskToItem(t))
			}
			counts[LayerProspective] = len(tasks)
		}
	case TypeRelational:
		hits := r.graphSearch(ctx, req.Project, req.QueryText, fanout)
		items = append(items, hits...)
		counts[LayerGraph] = len(hits)
	}

	return items, counts
}

func (r *Router) episodicKeywordSearch(ctx context.Context, project, query string, limit int) []types.Event {
	events, err := r.Store.Events.GetRange(ctx, project, zeroTime, r.Clock.Now(), storage.EventFilters{Limit: limit * 5})
	if err != nil {
		return nil
	}
	terms := tokenizeQuery(query)
	var matched []types.Event
	for _, e := range events {
		if matchesAny(strings.ToLower(e.Content), terms) {
			matched = append(matched, e)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched
}

func (r *Router) proceduralSearch(ctx context.Context, project, query string, limit int) []types.Procedure {
	procs, err := r.Store.Procedures.AllForProject(ctx, project)
	if err != nil {
		return nil
	}
	terms := tokenizeQuery(query)
	var matched []types.Procedure
	for _, p := range procs {
		if matchesAny(strings.ToLower(p.Name+" "+p.Category+" "+p.TriggerPattern), terms) {
			matched = append(matched, p)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched
}

func (r *Router) graphSearch(ctx context.Context, project, query string, limit int) []Item {
	entities, err := r.Store.Graph.AllEntities(ctx, project)
	if err != nil {
		return nil
	}
	terms := tokenizeQuery(query)
	var out []Item
	for _, e := range entities {
		if !matchesAny(strings.ToLower(e.Name), terms) {
			continue
		}
		out = append(out, Item{Layer: LayerGraph, ID: e.ID, Content: e.Name})
		if r.Graph != nil {
			if neighbours, err := r.Graph.Neighbours(ctx, project, e.ID, r.Cfg.DefaultDepth); err == nil {
				for _, n := range neighbours {
					out = append(out, Item{Layer: LayerGraph, ID: n.ID, Content: n.Name})
				}
			}
		}
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tokenizeQuery(q string) []string {
	return strings.Fields(strings.ToLower(q))
}

func matchesAny(haystack string, terms []string) bool {
	for _, t := range terms {
		if len(t) > 2 && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
