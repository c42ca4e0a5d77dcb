package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agentmem/internal/clock"
	"agentmem/internal/config"
	"agentmem/internal/llmclient"
	"agentmem/internal/operations"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	// Cheap deterministic projection: character histogram over three buckets.
	v := make([]float32, 3)
	for _, r := range text {
		v[int(r)%3]++
	}
	return v, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 3 }
func (stubEmbedder) Name() string    { return "stub" }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	db, err := storage.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	e, err := NewWithStore(config.Default(), storage.New(db, c), Options{
		Clock:     c,
		Embedding: stubEmbedder{},
		LLM:       llmclient.NewStub("synthesized answer citing [1]"),
		Metrics:   prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewWithStore() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEveryLayerIsRegistered(t *testing.T) {
	e := newTestEngine(t)

	env := e.Invoke(context.Background(), "list_layers", nil, 0, 0)
	if env.Status != "ok" {
		t.Fatalf("list_layers failed: %+v", env)
	}
	layers, ok := env.Data.([]operations.Layer)
	if !ok {
		t.Fatalf("unexpected data shape %T", env.Data)
	}
	want := map[operations.Layer]bool{
		operations.LayerEpisodic: true, operations.LayerSemantic: true,
		operations.LayerProcedural: true, operations.LayerProspective: true,
		operations.LayerGraph: true, operations.LayerMeta: true,
		operations.LayerConsolidation: true, operations.LayerRecall: true,
	}
	for _, l := range layers {
		delete(want, l)
	}
	if len(want) != 0 {
		t.Errorf("layers missing from registry: %v", want)
	}
}

func TestDescribeOperationRoundtrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	env := e.Invoke(ctx, "describe_operation", map[string]any{"id": "recall/query"}, 0, 0)
	if env.Status != "ok" {
		t.Fatalf("describe_operation failed: %+v", env)
	}

	env = e.Invoke(ctx, "describe_operation", map[string]any{"id": "no/such_op"}, 0, 0)
	if env.Code != string(types.ErrNotFound) {
		t.Errorf("unknown id code = %s, want NOT_FOUND", env.Code)
	}
}

func TestIngestDedupThroughOperationSurface(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	args := map[string]any{
		"project_id": "proj1",
		"session_id": "s1",
		"content":    "ran tests",
		"event_type": "action",
		"outcome":    "success",
	}

	first := e.Invoke(ctx, "episodic/append", args, 0, 0)
	if first.Status != "ok" {
		t.Fatalf("first append failed: %+v", first)
	}
	firstData := first.Data.(map[string]any)
	if firstData["deduplicated"].(bool) {
		t.Fatal("first append deduplicated")
	}

	second := e.Invoke(ctx, "episodic/append", args, 0, 0)
	if second.Status != "ok" {
		t.Fatalf("second append failed: %+v", second)
	}
	secondData := second.Data.(map[string]any)
	if !secondData["deduplicated"].(bool) {
		t.Fatal("second append not deduplicated")
	}
	if firstData["id"] != secondData["id"] {
		t.Errorf("dedup ids differ: %v vs %v", firstData["id"], secondData["id"])
	}

	list := e.Invoke(ctx, "episodic/by_session", map[string]any{"project_id": "proj1", "session_id": "s1"}, 10, 0)
	if list.Pagination.Total != 1 {
		t.Errorf("event log size = %d, want 1", list.Pagination.Total)
	}
}

func TestStoreSearchRecallFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	stored := e.Invoke(ctx, "semantic/store", map[string]any{
		"project_id":  "proj1",
		"content":     "JWT tokens need TTL checking",
		"memory_type": "fact",
		"domains":     []any{"auth"},
	}, 0, 0)
	if stored.Status != "ok" {
		t.Fatalf("semantic/store failed: %+v", stored)
	}

	search := e.Invoke(ctx, "semantic/search", map[string]any{
		"project_id": "proj1", "query": "JWT TTL checking", "k": 5,
	}, 5, 0)
	if search.Status != "ok" || search.Pagination.Total == 0 {
		t.Fatalf("semantic/search found nothing: %+v", search)
	}

	recalled := e.Invoke(ctx, "recall/query", map[string]any{
		"project_id": "proj1", "query": "JWT TTL checking", "k": 3, "cascade_depth": 1,
	}, 3, 0)
	if recalled.Status != "ok" || recalled.Pagination.Total == 0 {
		t.Fatalf("recall/query found nothing: %+v", recalled)
	}
}

func TestFireHookThroughOperationSurface(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	env := e.Invoke(ctx, "episodic/fire_hook", map[string]any{
		"project_id": "proj1",
		"session_id": "s1",
		"hook_id":    "session_start",
		"content":    "session opened",
		"task":       "fix token expiry",
	}, 0, 0)
	if env.Status != "ok" {
		t.Fatalf("fire_hook failed: %+v", env)
	}

	sc, err := e.Hooks.Sessions().Get(ctx, "s1")
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sc.Task != "fix token expiry" {
		t.Errorf("session task = %q", sc.Task)
	}
}

func TestFireHookRateLimitSurfacesAsEnvelope(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var limited bool
	for i := 0; i < e.Cfg.Hooks.RateLimitPerMin+1; i++ {
		env := e.Invoke(ctx, "episodic/fire_hook", map[string]any{
			"project_id": "proj1",
			"session_id": "s1",
			"hook_id":    "post_tool_use",
			"content":    fmt.Sprintf("tool call %d", i),
		}, 0, 0)
		if env.Status == "error" {
			if env.Code != string(types.ErrRateLimited) {
				t.Fatalf("error code = %s, want RATE_LIMITED", env.Code)
			}
			if !env.Retriable {
				t.Error("rate-limit envelope not retriable")
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("rate limit never tripped")
	}
}

func TestTaskLifecycleThroughOperations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created := e.Invoke(ctx, "prospective/create_task", map[string]any{
		"project_id": "proj1", "content": "wire retention sweep", "priority": "high",
	}, 0, 0)
	if created.Status != "ok" {
		t.Fatalf("create_task failed: %+v", created)
	}
	taskID := created.Data.(map[string]any)["id"].(int64)

	pending := e.Invoke(ctx, "prospective/pending", map[string]any{"project_id": "proj1"}, 10, 0)
	if pending.Pagination.Total != 1 {
		t.Fatalf("pending total = %d, want 1", pending.Pagination.Total)
	}

	moved := e.Invoke(ctx, "prospective/transition_phase", map[string]any{
		"task_id": taskID, "phase": "executing",
	}, 0, 0)
	if moved.Status != "ok" {
		t.Fatalf("transition_phase failed: %+v", moved)
	}

	back := e.Invoke(ctx, "prospective/transition_phase", map[string]any{
		"task_id": taskID, "phase": "planning",
	}, 0, 0)
	if back.Code != string(types.ErrInvalidArgument) {
		t.Errorf("backward transition code = %s, want INVALID_ARGUMENT", back.Code)
	}
}

func TestGraphOperations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mkEntity := func(name string) int64 {
		env := e.Invoke(ctx, "graph/upsert_entity", map[string]any{
			"project_id": "proj1", "name": name, "entity_type": "module",
		}, 0, 0)
		if env.Status != "ok" {
			t.Fatalf("upsert_entity(%s) failed: %+v", name, env)
		}
		return env.Data.(map[string]any)["id"].(int64)
	}
	auth := mkEntity("auth")
	jwt := mkEntity("jwt")
	crypto := mkEntity("crypto")

	link := func(from, to int64) {
		env := e.Invoke(ctx, "graph/upsert_relation", map[string]any{
			"project_id": "proj1", "from_entity": from, "to_entity": to, "relation_type": "depends_on",
		}, 0, 0)
		if env.Status != "ok" {
			t.Fatalf("upsert_relation failed: %+v", env)
		}
	}
	link(auth, jwt)
	link(jwt, crypto)

	neighbours := e.Invoke(ctx, "graph/neighbours", map[string]any{
		"project_id": "proj1", "entity_id": auth,
	}, 10, 0)
	if neighbours.Status != "ok" {
		t.Fatalf("neighbours failed: %+v", neighbours)
	}
	if neighbours.Pagination.Total != 2 {
		t.Errorf("transitive closure size = %d, want 2", neighbours.Pagination.Total)
	}

	path := e.Invoke(ctx, "graph/shortest_path", map[string]any{
		"project_id": "proj1", "from": auth, "to": crypto,
	}, 0, 0)
	if path.Status != "ok" {
		t.Fatalf("shortest_path failed: %+v", path)
	}
	if hops := path.Data.(map[string]any)["hops"].(int); hops != 2 {
		t.Errorf("hops = %d, want 2", hops)
	}
}

func TestFocusRoutesHighValueEvictee(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Seed a memory the evictee reference can resolve to.
	stored := e.Invoke(ctx, "semantic/store", map[string]any{
		"project_id": "proj1", "content": "prefer staged writes over cross-store transactions",
	}, 0, 0)
	memID := stored.Data.(map[string]any)["id"].(int64)

	// Fill the buffer with maximum-salience items, then push one more: the
	// evicted slot's composite clears the route threshold and lands in the
	// episodic log.
	for i := 0; i < e.Buffer.Capacity(); i++ {
		ref := types.ItemRef{Layer: "semantic", ID: memID}
		if i > 0 {
			ref = types.ItemRef{Layer: "episodic", ID: int64(1000 + i)}
		}
		if err := e.Focus(ctx, "proj1", ref, 1.0); err != nil {
			t.Fatalf("Focus() error = %v", err)
		}
	}
	if err := e.Focus(ctx, "proj1", types.ItemRef{Layer: "episodic", ID: 2000}, 1.0); err != nil {
		t.Fatalf("Focus(overflow) error = %v", err)
	}

	events, err := e.Store.Events.GetBySession(ctx, "proj1", "working-memory")
	if err != nil {
		t.Fatalf("GetBySession() error = %v", err)
	}
	if len(events) == 0 {
		t.Fatal("routed evictee was not persisted to the episodic log")
	}
	if e.Buffer.Size() > e.Buffer.Capacity() {
		t.Errorf("buffer size %d exceeds capacity", e.Buffer.Size())
	}
}
