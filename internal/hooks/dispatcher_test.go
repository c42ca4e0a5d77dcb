package hooks

import (
	"context"
	"testing"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *storage.Store, *clock.Fixed) {
	t.Helper()
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	db, err := storage.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	store := storage.New(db, c)
	t.Cleanup(func() { store.Close() })
	return New(store, c, cfg), store, c
}

func baseArgs(content string) Args {
	return Args{
		SessionID: "s1",
		ProjectID: "proj1",
		Content:   content,
		EventType: types.EventAction,
		Outcome:   types.OutcomeSuccess,
	}
}

func TestFirePersistsEvent(t *testing.T) {
	d, store, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	res, err := d.Fire(ctx, PostToolUse, baseArgs("edited router.go"))
	if err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if res.EventID == 0 {
		t.Fatal("no event id returned")
	}

	ev, err := store.Events.GetByID(ctx, res.EventID)
	if err != nil {
		t.Fatalf("persisted event missing: %v", err)
	}
	if ev.Content != "edited router.go" {
		t.Errorf("event content = %q", ev.Content)
	}
}

func TestIdempotentFireReturnsSameEvent(t *testing.T) {
	d, store, c := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	first, err := d.Fire(ctx, PostToolUse, baseArgs("ran go vet"))
	if err != nil {
		t.Fatalf("first Fire() error = %v", err)
	}

	c.Advance(5 * time.Second) // inside the 30s idempotency window
	second, err := d.Fire(ctx, PostToolUse, baseArgs("ran go vet"))
	if err != nil {
		t.Fatalf("second Fire() error = %v", err)
	}
	if !second.Deduplicated {
		t.Error("second fire inside the window not deduplicated")
	}
	if second.EventID != first.EventID {
		t.Errorf("second fire event = %d, want %d", second.EventID, first.EventID)
	}

	events, err := store.Events.GetBySession(ctx, "proj1", "s1")
	if err != nil {
		t.Fatalf("GetBySession() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event log size = %d, want 1", len(events))
	}
}

func TestRateLimitTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMin = 2
	d, _, _ := newTestDispatcher(t, cfg)
	ctx := context.Background()

	// Distinct contents so neither idempotency nor hash dedup absorbs them.
	for i, content := range []string{"first", "second"} {
		if _, err := d.Fire(ctx, ErrorOccurred, baseArgs(content)); err != nil {
			t.Fatalf("fire %d error = %v", i, err)
		}
	}

	_, err := d.Fire(ctx, ErrorOccurred, baseArgs("third"))
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Kind != types.ErrRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if !ee.Retriable {
		t.Error("rate-limit error should be retriable")
	}
}

func TestRateLimitRefills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMin = 1
	d, _, c := newTestDispatcher(t, cfg)
	ctx := context.Background()

	if _, err := d.Fire(ctx, PreToolUse, baseArgs("first")); err != nil {
		t.Fatalf("first fire error = %v", err)
	}
	if _, err := d.Fire(ctx, PreToolUse, baseArgs("second")); err == nil {
		t.Fatal("bucket did not trip")
	}

	c.Advance(2 * time.Minute)
	if _, err := d.Fire(ctx, PreToolUse, baseArgs("after refill")); err != nil {
		t.Fatalf("fire after refill error = %v", err)
	}
}

// cascadeCtx simulates being inside an enclosing chain whose stack already
// holds the given hooks, the situation a nested Fire call observes.
func cascadeCtx(stack ...ID) context.Context {
	chain := newChainState()
	chain.stack = append(chain.stack, stack...)
	return context.WithValue(context.Background(), chainCtxKey, chain)
}

func TestCascadeDirectCycleRejected(t *testing.T) {
	d, store, _ := newTestDispatcher(t, DefaultConfig())

	// A fired from within A's own chain.
	_, err := d.Fire(cascadeCtx(TaskStarted), TaskStarted, baseArgs("self-trigger"))
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Kind != types.ErrCascadeViolation {
		t.Fatalf("expected CASCADE_VIOLATION, got %v", err)
	}

	events, err := store.Events.GetBySession(context.Background(), "proj1", "s1")
	if err != nil {
		t.Fatalf("GetBySession() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatal("aborted chain still persisted an event")
	}
}

func TestCascadeTransitiveCycleRejected(t *testing.T) {
	d, _, _ := newTestDispatcher(t, DefaultConfig())

	// A -> B -> A.
	_, err := d.Fire(cascadeCtx(TaskStarted, TaskCompleted), TaskStarted, baseArgs("transitive"))
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Kind != types.ErrCascadeViolation {
		t.Fatalf("expected CASCADE_VIOLATION, got %v", err)
	}
}

func TestCascadeDepthOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 3
	d, _, _ := newTestDispatcher(t, cfg)

	_, err := d.Fire(cascadeCtx(SessionStart, TaskStarted, PreToolUse), PostToolUse, baseArgs("too deep"))
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Kind != types.ErrCascadeViolation {
		t.Fatalf("expected CASCADE_VIOLATION on depth, got %v", err)
	}
}

func TestChainBreadthOverflow(t *testing.T) {
	chain := newChainState()
	pop, err := chain.enter(SessionStart, 5, 2)
	if err != nil {
		t.Fatalf("root enter error = %v", err)
	}
	defer pop()

	for _, child := range []ID{TaskStarted, PreToolUse} {
		childPop, err := chain.enter(child, 5, 2)
		if err != nil {
			t.Fatalf("enter(%s) error = %v", child, err)
		}
		childPop()
	}

	if _, err := chain.enter(PostToolUse, 5, 2); err == nil {
		t.Fatal("third child did not trip the breadth guard")
	}
}

func TestSessionLifecycleAndRecovery(t *testing.T) {
	d, _, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	if _, err := d.Fire(ctx, SessionStart, Args{
		SessionID: "s1", ProjectID: "proj1", Content: "session opened",
		Context: types.EventContext{Task: "fix token expiry", Phase: "planning"},
	}); err != nil {
		t.Fatalf("session_start error = %v", err)
	}

	if _, err := d.Fire(ctx, ConversationTurn, baseArgs("looked at the JWT validator")); err != nil {
		t.Fatalf("conversation_turn error = %v", err)
	}

	res, err := d.Fire(ctx, UserPromptSubmit, baseArgs("where were we with this?"))
	if err != nil {
		t.Fatalf("user_prompt_submit error = %v", err)
	}
	if res.Recovery == nil {
		t.Fatal("recovery prompt produced no payload")
	}
	if res.Recovery.Task != "fix token expiry" {
		t.Errorf("recovery task = %q", res.Recovery.Task)
	}
	if len(res.Recovery.RecentEvents) == 0 {
		t.Error("recovery payload has no recent events")
	}
}

func TestPhaseReclassification(t *testing.T) {
	d, store, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	if _, err := d.Fire(ctx, SessionStart, Args{
		SessionID: "s1", ProjectID: "proj1", Content: "session opened",
		Context: types.EventContext{Task: "fix token expiry", Phase: "planning"},
	}); err != nil {
		t.Fatalf("session_start error = %v", err)
	}

	if _, err := d.Fire(ctx, UserPromptSubmit, baseArgs("plan is ready, start implementing")); err != nil {
		t.Fatalf("user_prompt_submit error = %v", err)
	}

	sc, err := store.Sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Sessions.Get() error = %v", err)
	}
	if sc.Phase == "planning" {
		t.Error("phase was not reclassified off planning")
	}
}
