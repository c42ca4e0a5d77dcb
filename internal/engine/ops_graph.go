package engine

import (
	"context"
	"fmt"

	"agentmem/internal/operations"
	"agentmem/internal/types"
)

func (e *Engine) registerGraphOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/upsert_entity",
		Layer:       operations.LayerGraph,
		Description: "Create or update an entity; (name, entity_type, project) is unique.",
		Schema: operations.Schema{
			Required: []string{"name", "entity_type"},
			Optional: []string{"metadata", "project_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			name, err := requireString(args, "name")
			if err != nil {
				return operations.Result{}, err
			}
			entityType, err := requireString(args, "entity_type")
			if err != nil {
				return operations.Result{}, err
			}
			metadata, _ := args["metadata"].(map[string]any)
			id, err := e.Store.Graph.UpsertEntity(ctx, &types.Entity{
				ProjectID:  argString(args, "project_id", "default"),
				Name:       name,
				EntityType: entityType,
				Metadata:   metadata,
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("entity %q upserted as %d", name, id),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/upsert_relation",
		Layer:       operations.LayerGraph,
		Description: "Create or strengthen a directed relation between two entities.",
		Schema: operations.Schema{
			Required: []string{"from_entity", "to_entity", "relation_type"},
			Optional: []string{"strength", "confidence", "project_id"},
			Types:    map[string]string{"from_entity": "integer", "to_entity": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			from, err := requireInt64(args, "from_entity")
			if err != nil {
				return operations.Result{}, err
			}
			to, err := requireInt64(args, "to_entity")
			if err != nil {
				return operations.Result{}, err
			}
			relType, err := requireString(args, "relation_type")
			if err != nil {
				return operations.Result{}, err
			}
			id, err := e.Store.Graph.UpsertRelation(ctx, &types.Relation{
				ProjectID:    argString(args, "project_id", "default"),
				FromEntity:   from,
				ToEntity:     to,
				RelationType: relType,
				Strength:     argFloat(args, "strength", 0.5),
				Confidence:   argFloat(args, "confidence", 0.5),
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("relation %d -[%s]-> %d", from, relType, to),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/add_observation",
		Layer:       operations.LayerGraph,
		Description: "Attach a timestamped observation to an entity.",
		Schema: operations.Schema{
			Required: []string{"entity_id", "content"},
			Optional: []string{"confidence"},
			Types:    map[string]string{"entity_id": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			entityID, err := requireInt64(args, "entity_id")
			if err != nil {
				return operations.Result{}, err
			}
			content, err := requireString(args, "content")
			if err != nil {
				return operations.Result{}, err
			}
			id, err := e.Store.Graph.AddObservation(ctx, &types.Observation{
				EntityID:   entityID,
				Content:    content,
				Confidence: argFloat(args, "confidence", 0.5),
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("observation %d added to entity %d", id, entityID),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/neighbours",
		Layer:       operations.LayerGraph,
		Description: "Entities reachable from one entity; max_hops<=0 means the full transitive closure.",
		Schema: operations.Schema{
			Required: []string{"entity_id"},
			Optional: []string{"max_hops", "project_id"},
			Types:    map[string]string{"entity_id": "integer", "max_hops": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			entityID, err := requireInt64(args, "entity_id")
			if err != nil {
				return operations.Result{}, err
			}
			project := argString(args, "project_id", "default")
			if err := e.Graph.LoadProject(ctx, project); err != nil {
				return operations.Result{}, err
			}
			entities, err := e.Graph.Neighbours(ctx, project, entityID, argInt(args, "max_hops", 0))
			if err != nil {
				return operations.Result{}, err
			}
			type entitySummary struct {
				ID         int64  `json:"id"`
				Name       string `json:"name"`
				EntityType string `json:"entity_type"`
			}
			out := make([]entitySummary, len(entities))
			for i, en := range entities {
				out[i] = entitySummary{ID: en.ID, Name: en.Name, EntityType: en.EntityType}
			}
			lo, hi := pageWindow(args, len(out))
			return operations.Result{
				Data:    out[lo:hi],
				Total:   len(out),
				Summary: fmt.Sprintf("%d entities reachable from %d", len(out), entityID),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/shortest_path",
		Layer:       operations.LayerGraph,
		Description: "Shortest hop path between two entities.",
		Schema: operations.Schema{
			Required: []string{"from", "to"},
			Optional: []string{"project_id"},
			Types:    map[string]string{"from": "integer", "to": "integer"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			from, err := requireInt64(args, "from")
			if err != nil {
				return operations.Result{}, err
			}
			to, err := requireInt64(args, "to")
			if err != nil {
				return operations.Result{}, err
			}
			project := argString(args, "project_id", "default")
			if err := e.Graph.LoadProject(ctx, project); err != nil {
				return operations.Result{}, err
			}
			path, err := e.Graph.ShortestPath(ctx, project, from, to)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"path": path, "hops": len(path) - 1},
				Total:   len(path),
				Summary: fmt.Sprintf("path of %d hops from %d to %d", len(path)-1, from, to),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "graph/communities",
		Layer:       operations.LayerGraph,
		Description: "Partition the project's entities into communities by label propagation.",
		Schema:      operations.Schema{Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			project := argString(args, "project_id", "default")
			if err := e.Graph.LoadProject(ctx, project); err != nil {
				return operations.Result{}, err
			}
			labels, err := e.Graph.DetectCommunities(ctx, project)
			if err != nil {
				return operations.Result{}, err
			}
			communities := make(map[int]int)
			for _, label := range labels {
				communities[label]++
			}
			return operations.Result{
				Data:    map[string]any{"entities": len(labels), "communities": len(communities)},
				Total:   len(communities),
				Summary: fmt.Sprintf("%d communities over %d entities", len(communities), len(labels)),
			}, nil
		},
	})
}
