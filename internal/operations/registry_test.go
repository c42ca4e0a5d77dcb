package operations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"agentmem/internal/types"
)

func listHandler(total int) Handler {
	return func(ctx context.Context, args map[string]any) (Result, error) {
		limit := args["__limit"].(int)
		offset := args["__offset"].(int)
		end := offset + limit
		if end > total {
			end = total
		}
		var page []int
		for i := offset; i < end; i++ {
			page = append(page, i)
		}
		return Result{Data: page, Total: total, Summary: fmt.Sprintf("%d items", total)}, nil
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	op := &Operation{ID: "semantic/search", Layer: LayerSemantic, Handler: listHandler(0)}
	if err := r.Register(op); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(op); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestRegisterRequiresHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Operation{ID: "episodic/append", Layer: LayerEpisodic}); err == nil {
		t.Fatal("handler-less operation accepted")
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	r := NewRegistry()
	env := r.Invoke(context.Background(), "nope/missing", nil, 0, 0)
	if env.Status != "error" {
		t.Fatalf("status = %s, want error", env.Status)
	}
	if env.Code != string(types.ErrNotFound) {
		t.Errorf("code = %s, want NOT_FOUND", env.Code)
	}
}

func TestInvokePaginationDefaultsAndClamping(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Operation{ID: "episodic/range", Layer: LayerEpisodic, Handler: listHandler(25)})

	// Default limit is 10.
	env := r.Invoke(context.Background(), "episodic/range", nil, 0, 0)
	if env.Pagination.Limit != 10 {
		t.Errorf("default limit = %d, want 10", env.Pagination.Limit)
	}
	if !env.Pagination.HasMore {
		t.Error("has_more = false with 25 items at limit 10")
	}
	if env.Pagination.Total != 25 {
		t.Errorf("total = %d, want 25", env.Pagination.Total)
	}

	// Limits above the cap are clamped to 100.
	env = r.Invoke(context.Background(), "episodic/range", nil, 500, 0)
	if env.Pagination.Limit != 100 {
		t.Errorf("clamped limit = %d, want 100", env.Pagination.Limit)
	}

	// Final page reports has_more = false.
	env = r.Invoke(context.Background(), "episodic/range", nil, 10, 20)
	if env.Pagination.HasMore {
		t.Error("has_more = true on the final page")
	}
}

func TestInvokeMapsEngineErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Operation{
		ID:    "episodic/fire_hook",
		Layer: LayerEpisodic,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{}, types.NewError(types.ErrRateLimited, true, "hook exceeded 30/min")
		},
	})

	env := r.Invoke(context.Background(), "episodic/fire_hook", nil, 0, 0)
	if env.Status != "error" {
		t.Fatalf("status = %s, want error", env.Status)
	}
	if env.Code != string(types.ErrRateLimited) {
		t.Errorf("code = %s, want RATE_LIMITED", env.Code)
	}
	if !env.Retriable {
		t.Error("rate-limited envelope not marked retriable")
	}
}

func TestInvokeWrapsPlainErrorsAsInternal(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Operation{
		ID:    "semantic/store",
		Layer: LayerSemantic,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{}, errors.New("disk full")
		},
	})
	env := r.Invoke(context.Background(), "semantic/store", nil, 0, 0)
	if env.Code != string(types.ErrInternal) {
		t.Errorf("code = %s, want INTERNAL", env.Code)
	}
	if env.Retriable {
		t.Error("internal error marked retriable")
	}
}

func TestLayersAndByLayerSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Operation{ID: "semantic/search", Layer: LayerSemantic, Handler: listHandler(0)})
	r.MustRegister(&Operation{ID: "semantic/get", Layer: LayerSemantic, Handler: listHandler(0)})
	r.MustRegister(&Operation{ID: "recall/query", Layer: LayerRecall, Handler: listHandler(0)})

	layers := r.Layers()
	if len(layers) != 2 {
		t.Fatalf("layers = %v", layers)
	}
	ops := r.ByLayer(LayerSemantic)
	if len(ops) != 2 || ops[0].ID != "semantic/get" {
		t.Errorf("ByLayer not sorted by id: %v, %v", ops[0].ID, ops[1].ID)
	}
}
