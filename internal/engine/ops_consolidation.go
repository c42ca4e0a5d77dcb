package engine

import (
	"context"
	"fmt"

	"agentmem/internal/consolidation"
	"agentmem/internal/operations"
	"agentmem/internal/recall"
)

func (e *Engine) registerConsolidationOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "consolidation/run",
		Layer:       operations.LayerConsolidation,
		Description: "Run one consolidation pass: cluster active events, extract and validate patterns, promote them, and flip event lifecycle.",
		Schema: operations.Schema{
			Optional: []string{"strategy", "session_id", "project_id"},
			Types:    map[string]string{"strategy": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			strategy := consolidation.Strategy(argString(args, "strategy", e.Cfg.Consolidation.Strategy))
			report, err := e.Consolidation.Run(ctx, argString(args, "project_id", "default"), argString(args, "session_id", ""), strategy)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data: map[string]any{
					"run_id":              report.RunID,
					"events_consolidated": report.EventsConsolidated,
					"patterns_extracted":  report.PatternsExtracted,
					"procedures_created":  report.ProceduresCreated,
					"memories_created":    report.MemoriesCreated,
					"deferred":            report.Deferred,
					"compression_ratio":   report.CompressionRatio,
					"quality_score":       report.QualityScore,
					"duration_ms":         report.Duration.Milliseconds(),
					"strategy":            strategy,
				},
				Total: report.EventsConsolidated,
				Summary: fmt.Sprintf("run %d: %d events -> %d patterns (%.0f%% compression, %d deferred)",
					report.RunID, report.EventsConsolidated, report.PatternsExtracted, report.CompressionRatio*100, report.Deferred),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "consolidation/get_run",
		Layer:       operations.LayerConsolidation,
		Description: "Fetch one consolidation run's report by id.",
		Schema:      operations.Schema{Required: []string{"run_id"}, Types: map[string]string{"run_id": "integer"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			runID, err := requireInt64(args, "run_id")
			if err != nil {
				return operations.Result{}, err
			}
			run, err := e.Store.Consolidation.GetRun(ctx, runID)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{Data: run, Total: 1, Summary: fmt.Sprintf("run %d (%s)", runID, run.Strategy)}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "consolidation/conflicts",
		Layer:       operations.LayerConsolidation,
		Description: "Detect and list unresolved contradictions between memories.",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			project := argString(args, "project_id", "default")
			if _, err := consolidation.DetectConflicts(ctx, e.Store, project); err != nil {
				return operations.Result{}, err
			}
			conflicts, err := e.Store.Consolidation.UnresolvedConflicts(ctx, project)
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(conflicts))
			return operations.Result{
				Data:    conflicts[lo:hi],
				Total:   len(conflicts),
				Summary: fmt.Sprintf("%d unresolved conflicts", len(conflicts)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "consolidation/dreams",
		Layer:       operations.LayerConsolidation,
		Description: "List evaluated tier-1 dream variants (speculative memories admitted to the recall surface).",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			dreams, err := e.Store.Consolidation.EvaluatedTierOne(ctx, argString(args, "project_id", "default"))
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(dreams))
			return operations.Result{
				Data:    dreams[lo:hi],
				Total:   len(dreams),
				Summary: fmt.Sprintf("%d tier-1 dream variants", len(dreams)),
			}, nil
		},
	})
}

func (e *Engine) registerRecallOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "recall/query",
		Layer:       operations.LayerRecall,
		Description: "Unified recall: classify the query, cascade across layers, fuse and rescore, optionally synthesize with the LLM.",
		Schema: operations.Schema{
			Required: []string{"query"},
			Optional: []string{"k", "cascade_depth", "include_confidence", "explain", "session_id", "project_id"},
			Types:    map[string]string{"query": "string", "k": "integer", "cascade_depth": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			query := argString(args, "query", "")
			resp, err := e.Router.Recall(ctx, recall.Request{
				QueryText:         query,
				Project:           argString(args, "project_id", "default"),
				SessionID:         argString(args, "session_id", ""),
				K:                 argInt(args, "k", 10),
				CascadeDepth:      argInt(args, "cascade_depth", 0),
				IncludeConfidence: argBool(args, "include_confidence"),
				Explain:           argBool(args, "explain"),
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    resp,
				Total:   len(resp.Items),
				Summary: resp.Summary,
			}, nil
		},
	})
}
