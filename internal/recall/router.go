package recall

import (
	"context"
	"fmt"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/config"
	"agentmem/internal/embedding"
	"agentmem/internal/graph"
	"agentmem/internal/hooks"
	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/storage"
	"agentmem/internal/types"
	"agentmem/internal/workingmemory"
)

var zeroTime time.Time

// Router is the composition root for the cascading recall pipeline.
// Every dependency is optional except Store: a nil
// Embedding/LLM/Graph/Meta/Sessions degrades the corresponding tier rather
// than failing the whole call, matching DEPENDENCY_UNAVAILABLE.
type Router struct {
	Store     *storage.Store
	Embedding embedding.EmbeddingEngine
	LLM       llmclient.Client
	Graph     *graph.Traverser
	Meta      *workingmemory.Meta
	Sessions  *hooks.SessionManager
	Clock     clock.Clock
	Cfg       config.RecallConfig
}

// Recall runs the full classify -> cascade -> fuse -> rescore -> confidence
// pipeline.
func (r *Router) Recall(ctx context.Context, req Request) (*Response, error) {
	log := logging.Get(logging.CategoryRecall)

	if req.QueryText == "" {
		return &Response{Status: "ok", Summary: "no query", Items: []Item{}}, nil
	}
	if req.K <= 0 {
		req.K = 10
	}
	rawDepth := req.CascadeDepth
	if rawDepth == 0 {
		rawDepth = r.Cfg.DefaultDepth
	}
	if rawDepth == 0 {
		rawDepth = 2
	}
	depth := clampDepth(rawDepth)
	overFetch := r.Cfg.OverFetch
	if overFetch <= 0 {
		overFetch = 3
	}
	fanout := req.K * overFetch

	qt := Classify(req.QueryText)

	var queryEmbedding []float32
	if r.Embedding != nil {
		if vec, err := r.Embedding.Embed(ctx, req.QueryText); err == nil {
			queryEmbedding = vec
		} else {
			log.Warn("Recall: embed query failed, falling back to lexical-only: %v", err)
		}
	}

	tier1Items, counts := r.tier1(ctx, req, qt, queryEmbedding, fanout)
	tierResults := [][]Item{tier1Items}
	tiersExecuted := []int{1}
	degraded := false
	synthesisSkipped := false

	if depth >= 2 {
		tier2Items := r.tier2(ctx, req, qt, queryEmbedding, fanout, counts)
		tierResults = append(tierResults, tier2Items)
		tiersExecuted = append(tiersExecuted, 2)
	}

	merged := mergeItems(tierResults, r.Cfg.RRFK)
	r.annotateAges(merged)

	wSem, wRec, wUse := r.Cfg.Weights.Semantic, r.Cfg.Weights.Recency, r.Cfg.Weights.Usefulness
	if wSem == 0 && wRec == 0 && wUse == 0 {
		wSem, wRec, wUse = 0.6, 0.2, 0.2
	}
	tauRec := r.Cfg.RecencyTauDays
	if tauRec == 0 {
		tauRec = 30
	}
	rescore(merged, wSem, wRec, wUse, tauRec)
	sortByComposite(merged)

	if depth == 3 {
		synth, ok := r.tier3(ctx, req, merged)
		if ok {
			merged = append([]Item{synth}, merged...)
			tiersExecuted = append(tiersExecuted, 3)
		} else {
			synthesisSkipped = true
			degraded = true
		}
	}

	if len(merged) > req.K {
		merged = merged[:req.K]
	}

	if req.IncludeConfidence {
		for i := range merged {
			cons := consistencyScore(merged[i], merged)
			comp := completenessScore(len(merged[i].Content))
			c := computeConfidence(merged[i], cons, comp, tauRec)
			merged[i].Confidence = &c
		}
	}

	if !req.DisableActivation {
		r.applyActivation(ctx, merged)
	}

	resp := &Response{
		Status:           "ok",
		Summary:          fmt.Sprintf("%d results for %q", len(merged), req.QueryText),
		Items:            merged,
		Degraded:         degraded,
		SynthesisSkipped: synthesisSkipped,
	}
	if req.Explain {
		resp.Explanation = &Explanation{
			QueryType:          qt,
			TiersExecuted:      tiersExecuted,
			LayersSearched:     layerKeys(counts),
			CandidatesPerLayer: counts,
			Degraded:           degraded,
		}
	}
	return resp, nil
}

func (r *Router) annotateAges(items []Item) {
	now := r.Clock.Now()
	for i := range items {
		if !items[i].LastActivation.IsZero() {
			items[i].AgeDays = now.Sub(items[i].LastActivation).Hours() / 24
		}
	}
}

// applyActivation bumps last_activation/activation_count on the top-k
// returned items.
func (r *Router) applyActivation(ctx context.Context, items []Item) {
	for _, it := range items {
		switch it.Layer {
		case LayerEpisodic:
			_ = r.Store.Events.IncrementActivation(ctx, it.ID)
		case LayerSemantic:
			_ = r.Store.Semantic.TouchAccess(ctx, it.ID)
		}
	}
}

func layerKeys(counts map[Layer]int) []Layer {
	out := make([]Layer, 0, len(counts))
	for l := range counts {
		out = append(out, l)
	}
	return out
}

func memoryToItem(h storage.ScoredMemory) Item {
	return Item{
		Layer:          LayerSemantic,
		ID:             h.Memory.ID,
		Content:        h.Memory.Content,
		SemanticScore:  h.SemanticScore,
		Usefulness:     h.Memory.UsefulnessScore,
		Quality:        h.Memory.Quality,
		LastActivation: h.Memory.LastAccessed,
	}
}

func eventToItem(e types.Event) Item {
	return Item{
		Layer:          LayerEpisodic,
		ID:             e.ID,
		Content:        e.Content,
		Quality:        e.ConsolidationScore,
		LastActivation: e.LastActivation,
	}
}

func procedureToItem(p types.Procedure) Item {
	return Item{
		Layer:      LayerProcedural,
		ID:         p.ID,
		Content:    fmt.Sprintf("%s: %s", p.Name, p.Template),
		Quality:    p.SuccessRate,
		Usefulness: p.SuccessRate,
	}
}

func taskToItem(t types.Task) Item {
	return Item{
		Layer:   LayerProspective,
		ID:      t.ID,
		Content: t.Content,
	}
}
