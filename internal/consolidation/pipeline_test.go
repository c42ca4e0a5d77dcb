package consolidation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/llmclient"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

func newPipelineFixture(t *testing.T, llm llmclient.Client) (*Engine, *storage.Store, *clock.Fixed) {
	t.Helper()
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	db, err := storage.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	store := storage.New(db, c)
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, llm, c), store, c
}

// seedClusteredEvents appends 10 events forming 5 temporal clusters: pairs
// one minute apart, with pair starts 85 minutes apart so the composite
// distance keeps them in distinct clusters under both the balanced
// (tau 0.35) and the quality (tau 0.45) parameters.
func seedClusteredEvents(t *testing.T, store *storage.Store, c *clock.Fixed) []int64 {
	t.Helper()
	ctx := context.Background()
	base := c.Now()
	var ids []int64
	for cluster := 0; cluster < 5; cluster++ {
		for i := 0; i < 2; i++ {
			ts := base.Add(time.Duration(cluster)*85*time.Minute + time.Duration(i)*time.Minute)
			res, err := store.Events.Append(ctx, &types.Event{
				ProjectID: "proj1",
				SessionID: "s1",
				Timestamp: ts,
				EventType: types.EventAction,
				Content:   fmt.Sprintf("cluster %d step %d: adjusted retry backoff", cluster, i),
				Outcome:   types.OutcomeSuccess,
			})
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			ids = append(ids, res.ID)
		}
	}
	// Run "now" is after the last event but inside the selection window.
	c.Set(base.Add(5*time.Hour + 45*time.Minute))
	return ids
}

func TestBalancedFastPathConsolidatesAll(t *testing.T) {
	e, store, c := newPipelineFixture(t, nil) // no LLM at all: fast path only
	ids := seedClusteredEvents(t, store, c)
	ctx := context.Background()

	report, err := e.Run(ctx, "proj1", "", StrategyBalanced)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.EventsConsolidated != 10 {
		t.Errorf("events consolidated = %d, want 10", report.EventsConsolidated)
	}
	if report.PatternsExtracted != 5 {
		t.Errorf("patterns extracted = %d, want 5", report.PatternsExtracted)
	}
	if report.CompressionRatio < 0.5 {
		t.Errorf("compression ratio = %f, want >= 0.5", report.CompressionRatio)
	}
	if report.QualityScore <= 0 {
		t.Errorf("quality score = %f, want > 0 after a promoting run", report.QualityScore)
	}
	if report.Deferred != 0 {
		t.Errorf("deferred = %d, want 0 on the fast path", report.Deferred)
	}
	if report.MemoriesCreated != 5 {
		t.Errorf("memories created = %d, want 5", report.MemoriesCreated)
	}

	run, err := store.Consolidation.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.QualityScore != report.QualityScore {
		t.Errorf("persisted quality = %f, report quality = %f", run.QualityScore, report.QualityScore)
	}

	for _, id := range ids {
		ev, err := store.Events.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%d) error = %v", id, err)
		}
		if ev.LifecycleStatus != types.LifecycleConsolidated {
			t.Errorf("event %d lifecycle = %s, want consolidated", id, ev.LifecycleStatus)
		}
		if ev.ConsolidationScore <= 0 {
			t.Errorf("event %d consolidated with score %f", id, ev.ConsolidationScore)
		}
	}
}

func TestProvenanceAttachedToPromotedMemories(t *testing.T) {
	e, store, c := newPipelineFixture(t, nil)
	seedClusteredEvents(t, store, c)
	ctx := context.Background()

	if _, err := e.Run(ctx, "proj1", "", StrategyBalanced); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	memories, err := store.Semantic.All(ctx, "proj1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(memories) == 0 {
		t.Fatal("no memories promoted")
	}
	for _, m := range memories {
		if len(m.SourceEventIDs) == 0 {
			t.Errorf("memory %d has no provenance event ids", m.ID)
		}
	}
}

func TestQualityStrategyConsultsLLMForEveryCandidate(t *testing.T) {
	valid := `{"valid": true, "refined_content": "Retry backoff doubles on consecutive failures.", "confidence": 0.9, "category": "pattern"}`
	stub := llmclient.NewStub(valid, valid, valid, valid, valid)
	e, store, c := newPipelineFixture(t, stub)
	seedClusteredEvents(t, store, c)
	ctx := context.Background()

	report, err := e.Run(ctx, "proj1", "", StrategyQuality)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls := stub.Calls(); len(calls) != 5 {
		t.Errorf("LLM consulted %d times, want every one of 5 candidates", len(calls))
	}
	if report.Deferred != 0 {
		t.Errorf("deferred = %d with a healthy LLM", report.Deferred)
	}

	memories, err := store.Semantic.All(ctx, "proj1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	foundRefined := false
	for _, m := range memories {
		if m.Content == "Retry backoff doubles on consecutive failures." {
			foundRefined = true
		}
	}
	if !foundRefined {
		t.Error("refined content from validation was not promoted")
	}
}

func TestLLMOfflineDefersInsteadOfDiscarding(t *testing.T) {
	stub := llmclient.NewStub()
	stub.SetError(errors.New("dial tcp: connection refused"))
	e, store, c := newPipelineFixture(t, stub)
	ids := seedClusteredEvents(t, store, c)
	ctx := context.Background()

	report, err := e.Run(ctx, "proj1", "", StrategyQuality)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Deferred != 5 {
		t.Errorf("deferred = %d, want all 5 candidates", report.Deferred)
	}
	if report.MemoriesCreated != 0 {
		t.Errorf("memories created = %d while offline", report.MemoriesCreated)
	}
	if report.QualityScore != 0 {
		t.Errorf("quality score = %f with nothing promoted", report.QualityScore)
	}

	// Deferred clusters stay active and re-consolidatable.
	for _, id := range ids {
		ev, err := store.Events.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%d) error = %v", id, err)
		}
		if ev.LifecycleStatus != types.LifecycleActive {
			t.Errorf("event %d lifecycle = %s, want active after deferral", id, ev.LifecycleStatus)
		}
	}

	// A later run with the LLM back succeeds.
	stub.SetError(nil)
	report, err = e.Run(ctx, "proj1", "", StrategyBalanced)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if report.EventsConsolidated != 10 {
		t.Errorf("second run consolidated %d events, want 10", report.EventsConsolidated)
	}
}

func TestSpeedStrategyNeverConsultsLLM(t *testing.T) {
	stub := llmclient.NewStub()
	e, store, c := newPipelineFixture(t, stub)
	seedClusteredEvents(t, store, c)
	ctx := context.Background()

	if _, err := e.Run(ctx, "proj1", "", StrategySpeed); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls := stub.Calls(); len(calls) != 0 {
		t.Errorf("speed strategy made %d LLM calls", len(calls))
	}
}

func TestEmptySelectionProducesEmptyReport(t *testing.T) {
	e, _, _ := newPipelineFixture(t, nil)
	report, err := e.Run(context.Background(), "proj1", "", StrategyBalanced)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.EventsConsolidated != 0 || report.PatternsExtracted != 0 {
		t.Errorf("empty log produced report %+v", report)
	}
}
