package llmclient

import (
	"context"
	"testing"

	"google.golang.org/genai"
)

func TestStubReturnsQueuedResponsesInOrder(t *testing.T) {
	s := NewStub("first", "second")
	ctx := context.Background()

	got, err := s.Complete(ctx, "sys", "a")
	if err != nil || got != "first" {
		t.Fatalf("Complete #1 = %q, %v", got, err)
	}
	got, err = s.CompleteStructured(ctx, "sys", "b", nil)
	if err != nil || got != "second" {
		t.Fatalf("Complete #2 = %q, %v", got, err)
	}
	got, err = s.Complete(ctx, "sys", "c")
	if err != nil || got != "{}" {
		t.Fatalf("Complete #3 (exhausted) = %q, %v, want {}", got, err)
	}

	calls := s.Calls()
	if len(calls) != 3 || !calls[1].Structured {
		t.Fatalf("unexpected call log: %+v", calls)
	}
}

func TestStubPropagatesError(t *testing.T) {
	s := NewStub()
	wantErr := context.DeadlineExceeded
	s.SetError(wantErr)

	if _, err := s.Complete(context.Background(), "", ""); err != wantErr {
		t.Fatalf("Complete error = %v, want %v", err, wantErr)
	}
}

func TestSchemaFromMap(t *testing.T) {
	m := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
	s := schemaFromMap(m)
	if s.Type != genai.TypeObject {
		t.Fatalf("expected type=object, got %v", s.Type)
	}
	if _, ok := s.Properties["name"]; !ok {
		t.Fatalf("expected properties.name to be present")
	}
	if len(s.Required) != 1 || s.Required[0] != "name" {
		t.Fatalf("expected required=[name], got %v", s.Required)
	}
}
