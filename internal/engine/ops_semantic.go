package engine

import (
	"context"
	"fmt"

	"agentmem/internal/operations"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

type memorySummary struct {
	ID         int64            `json:"id"`
	Content    string           `json:"content"`
	MemoryType types.MemoryType `json:"memory_type"`
	Quality    float64          `json:"quality"`
	Semantic   float64          `json:"semantic_score,omitempty"`
	Lexical    float64          `json:"lexical_score,omitempty"`
	Fusion     float64          `json:"rank_fusion_score,omitempty"`
}

func (e *Engine) registerSemanticOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "semantic/store",
		Layer:       operations.LayerSemantic,
		Description: "Store one distilled memory, embedding its content when a provider is available.",
		Schema: operations.Schema{
			Required: []string{"content"},
			Optional: []string{"memory_type", "tags", "domains", "importance", "quality", "project_id"},
			Types:    map[string]string{"content": "string", "memory_type": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			content, err := requireString(args, "content")
			if err != nil {
				return operations.Result{}, err
			}
			m := &types.Memory{
				ProjectID:       argString(args, "project_id", "default"),
				Content:         content,
				MemoryType:      types.MemoryType(argString(args, "memory_type", string(types.MemoryFact))),
				Tags:            argStrings(args, "tags"),
				Domains:         argStrings(args, "domains"),
				Importance:      argFloat(args, "importance", 0.5),
				Quality:         argFloat(args, "quality", 0.5),
				UsefulnessScore: argFloat(args, "usefulness_score", 0.5),
			}
			if e.Embedding != nil {
				if vec, err := e.Embedding.Embed(ctx, content); err == nil {
					m.Embedding = vec
				}
			}
			id, err := e.Store.Semantic.Store(ctx, m)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("memory %d stored", id),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "semantic/search",
		Layer:       operations.LayerSemantic,
		Description: "Hybrid vector+keyword search over memories with reciprocal-rank fusion (summaries only).",
		Schema: operations.Schema{
			Required: []string{"query"},
			Optional: []string{"k", "memory_types", "tags", "domains", "project_id"},
			Types:    map[string]string{"query": "string", "k": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return operations.Result{}, err
			}
			k := argInt(args, "k", 10)
			filters := storage.MemoryFilters{Tags: argStrings(args, "tags"), Domains: argStrings(args, "domains")}
			for _, s := range argStrings(args, "memory_types") {
				filters.MemoryTypes = append(filters.MemoryTypes, types.MemoryType(s))
			}
			var queryVec []float32
			if e.Embedding != nil {
				if vec, err := e.Embedding.Embed(ctx, query); err == nil {
					queryVec = vec
				}
			}
			overFetch := e.Cfg.Recall.OverFetch
			if overFetch <= 0 {
				overFetch = 3
			}
			hits, err := e.Store.Semantic.HybridSearch(ctx, query, queryVec, argString(args, "project_id", "default"), filters, k, overFetch, e.Cfg.Recall.RRFK)
			if err != nil {
				return operations.Result{}, err
			}
			out := make([]memorySummary, len(hits))
			for i, h := range hits {
				out[i] = memorySummary{
					ID:         h.Memory.ID,
					Content:    snippet(h.Memory.Content, 120),
					MemoryType: h.Memory.MemoryType,
					Quality:    h.Memory.Quality,
					Semantic:   h.SemanticScore,
					Lexical:    h.LexicalScore,
					Fusion:     h.RankFusionScore,
				}
			}
			lo, hi := pageWindow(args, len(out))
			return operations.Result{
				Data:    out[lo:hi],
				Total:   len(out),
				Summary: fmt.Sprintf("%d memories match %q", len(out), snippet(query, 40)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "semantic/get",
		Layer:       operations.LayerSemantic,
		Description: "Fetch one memory in full by id.",
		Schema:      operations.Schema{Required: []string{"id"}, Types: map[string]string{"id": "integer"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			id, err := requireInt64(args, "id")
			if err != nil {
				return operations.Result{}, err
			}
			m, err := e.Store.Semantic.GetByID(ctx, id)
			if err != nil {
				return operations.Result{}, err
			}
			if err := e.Store.Semantic.TouchAccess(ctx, id); err == nil {
				m.AccessCount++
			}
			return operations.Result{Data: m, Total: 1, Summary: fmt.Sprintf("memory %d", id)}, nil
		},
	})
}

func (e *Engine) registerProceduralOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "procedural/create",
		Layer:       operations.LayerProcedural,
		Description: "Create a named procedure template.",
		Schema: operations.Schema{
			Required: []string{"name", "template"},
			Optional: []string{"category", "trigger_pattern", "project_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			name, err := requireString(args, "name")
			if err != nil {
				return operations.Result{}, err
			}
			template, err := requireString(args, "template")
			if err != nil {
				return operations.Result{}, err
			}
			p := &types.Procedure{
				ProjectID:      argString(args, "project_id", "default"),
				Name:           name,
				Category:       argString(args, "category", "general"),
				Template:       template,
				TriggerPattern: argString(args, "trigger_pattern", ""),
			}
			id, err := e.Store.Procedures.Create(ctx, p)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("procedure %q created as %d", name, id),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "procedural/list",
		Layer:       operations.LayerProcedural,
		Description: "List a project's procedures (name, category, success rate).",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			procs, err := e.Store.Procedures.AllForProject(ctx, argString(args, "project_id", "default"))
			if err != nil {
				return operations.Result{}, err
			}
			type procSummary struct {
				ID          int64   `json:"id"`
				Name        string  `json:"name"`
				Category    string  `json:"category"`
				SuccessRate float64 `json:"success_rate"`
				UsageCount  int64   `json:"usage_count"`
			}
			out := make([]procSummary, len(procs))
			for i, p := range procs {
				out[i] = procSummary{ID: p.ID, Name: p.Name, Category: p.Category, SuccessRate: p.SuccessRate, UsageCount: p.UsageCount}
			}
			lo, hi := pageWindow(args, len(out))
			return operations.Result{
				Data:    out[lo:hi],
				Total:   len(out),
				Summary: fmt.Sprintf("%d procedures", len(out)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "procedural/get",
		Layer:       operations.LayerProcedural,
		Description: "Fetch one procedure in full by id.",
		Schema:      operations.Schema{Required: []string{"id"}, Types: map[string]string{"id": "integer"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			id, err := requireInt64(args, "id")
			if err != nil {
				return operations.Result{}, err
			}
			p, err := e.Store.Procedures.GetByID(ctx, id)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{Data: p, Total: 1, Summary: fmt.Sprintf("procedure %s", p.Name)}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "procedural/record_execution",
		Layer:       operations.LayerProcedural,
		Description: "Record one run of a procedure; success rate and usage counters update from it.",
		Schema: operations.Schema{
			Required: []string{"procedure_id", "outcome"},
			Optional: []string{"duration_ms", "learned", "project_id"},
			Types:    map[string]string{"procedure_id": "integer", "outcome": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			procID, err := requireInt64(args, "procedure_id")
			if err != nil {
				return operations.Result{}, err
			}
			outcome, err := requireString(args, "outcome")
			if err != nil {
				return operations.Result{}, err
			}
			id, err := e.Store.Procedures.RecordExecution(ctx, &types.ProcedureExecution{
				ProcedureID: procID,
				ProjectID:   argString(args, "project_id", "default"),
				Outcome:     types.Outcome(outcome),
				DurationMs:  argInt64(args, "duration_ms", 0),
				Learned:     argString(args, "learned", ""),
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"execution_id": id},
				Total:   1,
				Summary: fmt.Sprintf("execution %d recorded for procedure %d", id, procID),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "procedural/match_trigger",
		Layer:       operations.LayerProcedural,
		Description: "Find procedures whose trigger pattern matches a text.",
		Schema:      operations.Schema{Required: []string{"text"}, Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			text, err := requireString(args, "text")
			if err != nil {
				return operations.Result{}, err
			}
			procs, err := e.Store.Procedures.ByTriggerPattern(ctx, argString(args, "project_id", "default"), text)
			if err != nil {
				return operations.Result{}, err
			}
			lo, hi := pageWindow(args, len(procs))
			return operations.Result{
				Data:    procs[lo:hi],
				Total:   len(procs),
				Summary: fmt.Sprintf("%d procedures triggered", len(procs)),
			}, nil
		},
	})
}
