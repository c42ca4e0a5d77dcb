package recall

import (
	"context"

	"agentmem/internal/storage"
)

// tier2 runs Tier 2: (a) hybrid semantic search across both
// embedding and keyword paths (already RRF-fused inside HybridSearch),
// (b) meta-layer enrichment for meta queries, (c) session-context
// injection biasing downstream rescoring via recent-event items.
func (r *Router) tier2(ctx context.Context, req Request, qt QueryType, queryEmbedding []float32, fanout int, counts map[Layer]int) []Item {
	var items []Item

	hits, err := r.Store.Semantic.HybridSearch(ctx, req.QueryText, queryEmbedding, req.Project, storage.MemoryFilters{}, fanout, 2, r.Cfg.RRFK)
	if err == nil {
		for _, h := range hits {
			items = append(items, memoryToItem(h))
		}
		counts[LayerSemantic] += len(hits)
	}

	if qt == TypeMeta && r.Meta != nil {
		items = append(items, r.metaEnrichment(ctx, req.Project)...)
	}

	items = append(items, r.sessionContextItems(ctx, req)...)

	return items
}

// metaEnrichment surfaces coverage/expertise/gap summaries as synthetic
// recall items for meta-type queries.
func (r *Router) metaEnrichment(ctx context.Context, project string) []Item {
	var items []Item
	gaps, err := r.Meta.FindGaps(ctx, project)
	if err != nil {
		return items
	}
	for i, g := range gaps {
		items = append(items, Item{
			Layer:   LayerSynthesis,
			ID:      int64(-(i + 1)), // synthetic items use negative ids, never collide with stored rows
			Content: "coverage gap: " + g.Domain + " - " + g.Reason,
		})
	}
	return items
}

// sessionContextItems injects the session's recent-events ring as
// low-weight items so they participate in fusion without dominating it.
func (r *Router) sessionContextItems(ctx context.Context, req Request) []Item {
	if r.Sessions == nil || req.SessionID == "" {
		return nil
	}
	events, err := r.Sessions.RecentEvents(ctx, req.SessionID)
	if err != nil {
		return nil
	}
	var items []Item
	for _, e := range events {
		it := eventToItem(e)
		it.SemanticScore *= 0.5 // context bias, not a primary match
		items = append(items, it)
	}
	return items
}
