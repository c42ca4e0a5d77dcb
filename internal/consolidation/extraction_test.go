package consolidation

import (
	"testing"

	"agentmem/internal/types"
)

func TestExtractUncertaintyFromCohesion(t *testing.T) {
	tight := Cluster{Key: "tight", Events: []types.Event{
		{ID: 1, SessionID: "s1", Content: "run tests", EventType: types.EventAction, Outcome: types.OutcomeSuccess},
		{ID: 2, SessionID: "s1", Content: "run tests", EventType: types.EventAction, Outcome: types.OutcomeSuccess},
		{ID: 3, SessionID: "s2", Content: "run tests", EventType: types.EventAction, Outcome: types.OutcomeSuccess},
	}}
	candidates := Extract([]Cluster{tight})
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if !c.IsProcedural {
		t.Error("repeated action across sessions should be flagged procedural")
	}
	if c.Uncertainty < 0 || c.Uncertainty > 1 {
		t.Errorf("uncertainty out of bounds: %f", c.Uncertainty)
	}
}

func TestExtractSuggestsTypeFromEventType(t *testing.T) {
	errCluster := Cluster{Key: "errs", Events: []types.Event{
		{ID: 1, SessionID: "s1", Content: "nil pointer", EventType: types.EventError, Outcome: types.OutcomeNone},
		{ID: 2, SessionID: "s1", Content: "nil pointer again", EventType: types.EventError, Outcome: types.OutcomeNone},
	}}
	candidates := Extract([]Cluster{errCluster})
	if candidates[0].SuggestedType != types.MemoryFact {
		t.Errorf("got suggested type %q, want %q", candidates[0].SuggestedType, types.MemoryFact)
	}
}

func TestExtractSkipsEmptyClusters(t *testing.T) {
	candidates := Extract([]Cluster{{Key: "empty"}})
	if len(candidates) != 0 {
		t.Errorf("expected no candidates for empty cluster, got %d", len(candidates))
	}
}
