package engine

import (
	"context"
	"fmt"

	"agentmem/internal/operations"
	"agentmem/internal/types"
)

// registerOperations builds the flat operation namespace over the assembled
// engine. Registration is static: every core operation is known at
// composition time, and a duplicate id panics immediately.
func (e *Engine) registerOperations() {
	e.registerDiscoveryOps()
	e.registerEpisodicOps()
	e.registerSemanticOps()
	e.registerProceduralOps()
	e.registerProspectiveOps()
	e.registerGraphOps()
	e.registerMetaOps()
	e.registerConsolidationOps()
	e.registerRecallOps()
}

// Invoke dispatches one operation call through the registry.
func (e *Engine) Invoke(ctx context.Context, operationID string, args map[string]any, limit, offset int) operations.Envelope {
	return e.Registry.Invoke(ctx, operationID, args, limit, offset)
}

// registerDiscoveryOps registers the three mandatory meta-operations that
// let a client enumerate the namespace before invoking anything.
func (e *Engine) registerDiscoveryOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "list_layers",
		Layer:       operations.LayerMeta,
		Description: "List every layer with registered operations.",
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			layers := e.Registry.Layers()
			return operations.Result{
				Data:    layers,
				Total:   len(layers),
				Summary: fmt.Sprintf("%d layers", len(layers)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "list_operations",
		Layer:       operations.LayerMeta,
		Description: "List the operations registered under one layer.",
		Schema:      operations.Schema{Required: []string{"layer"}, Types: map[string]string{"layer": "string"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			layer, err := requireString(args, "layer")
			if err != nil {
				return operations.Result{}, err
			}
			ops := e.Registry.ByLayer(operations.Layer(layer))
			type opSummary struct {
				ID          string `json:"id"`
				Description string `json:"description"`
			}
			out := make([]opSummary, 0, len(ops))
			for _, op := range ops {
				out = append(out, opSummary{ID: op.ID, Description: op.Description})
			}
			lo, hi := pageWindow(args, len(out))
			return operations.Result{
				Data:    out[lo:hi],
				Total:   len(out),
				Summary: fmt.Sprintf("%d operations in layer %s", len(out), layer),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "describe_operation",
		Layer:       operations.LayerMeta,
		Description: "Return one operation's argument schema.",
		Schema:      operations.Schema{Required: []string{"id"}, Types: map[string]string{"id": "string"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return operations.Result{}, err
			}
			op, ok := e.Registry.Get(id)
			if !ok {
				return operations.Result{}, types.NewError(types.ErrNotFound, false, "unknown operation %q", id)
			}
			return operations.Result{
				Data: map[string]any{
					"id":          op.ID,
					"layer":       op.Layer,
					"description": op.Description,
					"schema":      op.Schema,
				},
				Total:   1,
				Summary: op.ID + ": " + op.Description,
			}, nil
		},
	})
}
