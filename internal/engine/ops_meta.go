package engine

import (
	"context"
	"fmt"

	"agentmem/internal/operations"
	"agentmem/internal/types"
)

func (e *Engine) registerMetaOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/memory_health",
		Layer:       operations.LayerMeta,
		Description: "Per-domain memory coverage and average quality.",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			coverage, err := e.Meta.MemoryHealth(ctx, argString(args, "project_id", "default"))
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(coverage))
			return operations.Result{
				Data:    coverage[lo:hi],
				Total:   len(coverage),
				Summary: fmt.Sprintf("%d domains covered", len(coverage)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/expertise_map",
		Layer:       operations.LayerMeta,
		Description: "Per-domain expertise (EMA over success outcomes).",
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			m := e.Meta.ExpertiseMap()
			return operations.Result{
				Data:    m,
				Total:   len(m),
				Summary: fmt.Sprintf("expertise tracked for %d domains", len(m)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/find_gaps",
		Layer:       operations.LayerMeta,
		Description: "Domains with high query load but low coverage or expertise.",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			gaps, err := e.Meta.FindGaps(ctx, argString(args, "project_id", "default"))
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(gaps))
			return operations.Result{
				Data:    gaps[lo:hi],
				Total:   len(gaps),
				Summary: fmt.Sprintf("%d gaps found", len(gaps)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/recommendations",
		Layer:       operations.LayerMeta,
		Description: "Actionable suggestions derived from the current gaps.",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			recs, err := e.Meta.Recommendations(ctx, argString(args, "project_id", "default"))
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(recs))
			return operations.Result{
				Data:    recs[lo:hi],
				Total:   len(recs),
				Summary: fmt.Sprintf("%d recommendations", len(recs)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/working_memory",
		Layer:       operations.LayerMeta,
		Description: "Current working-memory occupancy, ordered by composite score.",
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			slots := e.Buffer.Occupancy(ctx)
			return operations.Result{
				Data: map[string]any{
					"slots":          slots,
					"capacity":       e.Buffer.Capacity(),
					"cognitive_load": e.Buffer.CognitiveLoad(),
				},
				Total:   len(slots),
				Summary: fmt.Sprintf("%d/%d slots occupied", len(slots), e.Buffer.Capacity()),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "meta/focus",
		Layer:       operations.LayerMeta,
		Description: "Bring a (layer, id) reference into working memory; a high-value evictee is routed to the episodic log.",
		Schema: operations.Schema{
			Required: []string{"layer", "id"},
			Optional: []string{"salience", "project_id"},
			Types:    map[string]string{"layer": "string", "id": "integer", "salience": "number"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			layer, err := requireString(args, "layer")
			if err != nil {
				return operations.Result{}, err
			}
			id, err := requireInt64(args, "id")
			if err != nil {
				return operations.Result{}, err
			}
			ref := types.ItemRef{Layer: layer, ID: id}
			if err := e.Focus(ctx, argString(args, "project_id", "default"), ref, argFloat(args, "salience", 0.5)); err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"occupancy": e.Buffer.Size(), "capacity": e.Buffer.Capacity()},
				Total:   1,
				Summary: fmt.Sprintf("focused %s/%d", layer, id),
			}, nil
		},
	})
}
