package recall

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/config"
	"agentmem/internal/llmclient"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// fakeEmbedder returns canned vectors per exact text, so semantic ranking in
// tests is fully deterministic without a running provider.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func newTestRouter(t *testing.T, llm llmclient.Client) (*Router, *storage.Store, *clock.Fixed) {
	t.Helper()
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	db, err := storage.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	store := storage.New(db, c)
	t.Cleanup(func() { store.Close() })

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"JWT tokens need TTL checking":  {1, 0, 0},
		"Refresh tokens rotate on use":  {0.8, 0.6, 0},
		"Log rotation uses daily index": {0, 0, 1},
		"token expiry":                  {1, 0, 0},
	}}

	r := &Router{
		Store:     store,
		Embedding: embedder,
		LLM:       llm,
		Clock:     c,
		Cfg:       config.Default().Recall,
	}
	return r, store, c
}

func seedTokenMemories(t *testing.T, store *storage.Store, embedder func(string) []float32) {
	t.Helper()
	ctx := context.Background()
	for _, content := range []string{
		"JWT tokens need TTL checking",
		"Refresh tokens rotate on use",
		"Log rotation uses daily index",
	} {
		if _, err := store.Semantic.Store(ctx, &types.Memory{
			ProjectID:       "proj1",
			Content:         content,
			MemoryType:      types.MemoryFact,
			Quality:         0.5,
			UsefulnessScore: 0.5,
			Embedding:       embedder(content),
		}); err != nil {
			t.Fatalf("Store(%q) error = %v", content, err)
		}
	}
}

func TestTieredRecallDepthOne(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 2, CascadeDepth: 1, Explain: true,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(resp.Items))
	}
	if resp.Items[0].Content != "JWT tokens need TTL checking" {
		t.Errorf("first item = %q", resp.Items[0].Content)
	}
	if resp.Items[1].Content != "Refresh tokens rotate on use" {
		t.Errorf("second item = %q", resp.Items[1].Content)
	}
	for _, it := range resp.Items {
		if it.Content == "Log rotation uses daily index" {
			t.Error("unrelated memory leaked into top-k")
		}
	}
	if resp.Explanation == nil {
		t.Fatal("explain requested but no explanation returned")
	}
	if got := resp.Explanation.TiersExecuted; len(got) != 1 || got[0] != 1 {
		t.Errorf("tiers executed = %v, want [1]", got)
	}
}

func TestTieredRecallDepthThreeSynthesizes(t *testing.T) {
	stub := llmclient.NewStub("TTL checking and rotation-on-use both bound token lifetime [1][2].")
	r, store, _ := newTestRouter(t, stub)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 3, CascadeDepth: 3, Explain: true,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if resp.SynthesisSkipped {
		t.Fatal("synthesis skipped with a working LLM")
	}
	if resp.Items[0].Layer != LayerSynthesis {
		t.Fatalf("first item layer = %s, want synthesis", resp.Items[0].Layer)
	}
	if got := resp.Explanation.TiersExecuted; len(got) != 3 {
		t.Errorf("tiers executed = %v, want [1 2 3]", got)
	}
	if calls := stub.Calls(); len(calls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(calls))
	}
}

func TestDepthThreeDegradesWhenLLMUnavailable(t *testing.T) {
	stub := llmclient.NewStub()
	stub.SetError(errors.New("connection refused"))
	r, store, _ := newTestRouter(t, stub)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 2, CascadeDepth: 3,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if !resp.SynthesisSkipped || !resp.Degraded {
		t.Errorf("synthesis_skipped=%v degraded=%v, want both true", resp.SynthesisSkipped, resp.Degraded)
	}
	if len(resp.Items) == 0 {
		t.Error("degraded recall returned no tier-1/2 results")
	}
}

func TestEmptyQuery(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	resp, err := r.Recall(context.Background(), Request{Project: "proj1", K: 5})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if resp.Summary != "no query" {
		t.Errorf("summary = %q, want \"no query\"", resp.Summary)
	}
	if len(resp.Items) != 0 {
		t.Errorf("empty query returned %d items", len(resp.Items))
	}
}

func TestNoMatchesIsNotDegraded(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	resp, err := r.Recall(context.Background(), Request{
		QueryText: "completely unknown subject", Project: "proj1", K: 5, CascadeDepth: 1,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(resp.Items) != 0 {
		t.Errorf("got %d items, want 0", len(resp.Items))
	}
	if resp.Degraded {
		t.Error("empty result marked degraded")
	}
}

func TestCascadeDepthClamped(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	for _, depth := range []int{-4, 0, 7} {
		resp, err := r.Recall(context.Background(), Request{
			QueryText: "token expiry", Project: "proj1", K: 2, CascadeDepth: depth, Explain: true,
		})
		if err != nil {
			t.Fatalf("Recall(depth=%d) error = %v", depth, err)
		}
		for _, tier := range resp.Explanation.TiersExecuted {
			if tier < 1 || tier > 3 {
				t.Errorf("depth=%d executed out-of-range tier %d", depth, tier)
			}
		}
	}
}

func TestScoresMonotonicallyNonIncreasing(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 10, CascadeDepth: 2,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	seen := make(map[Layer]map[int64]bool)
	for i, it := range resp.Items {
		if i > 0 && it.Composite > resp.Items[i-1].Composite {
			t.Errorf("composite score increased at position %d", i)
		}
		if seen[it.Layer] == nil {
			seen[it.Layer] = make(map[int64]bool)
		}
		if seen[it.Layer][it.ID] {
			t.Errorf("duplicate (%s, %d) in result list", it.Layer, it.ID)
		}
		seen[it.Layer][it.ID] = true
	}
}

func TestRecallPureWithActivationDisabled(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	req := Request{QueryText: "token expiry", Project: "proj1", K: 2, CascadeDepth: 1, DisableActivation: true}
	first, err := r.Recall(context.Background(), req)
	if err != nil {
		t.Fatalf("first Recall() error = %v", err)
	}
	second, err := r.Recall(context.Background(), req)
	if err != nil {
		t.Fatalf("second Recall() error = %v", err)
	}
	if len(first.Items) != len(second.Items) {
		t.Fatalf("result sizes differ: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if first.Items[i].ID != second.Items[i].ID {
			t.Errorf("position %d: ids differ (%d vs %d)", i, first.Items[i].ID, second.Items[i].ID)
		}
	}
}

func TestRecallActivationSideEffect(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 1, CascadeDepth: 1,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(resp.Items) == 0 {
		t.Fatal("no items returned")
	}

	m, err := store.Semantic.GetByID(context.Background(), resp.Items[0].ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if m.AccessCount == 0 {
		t.Error("recall did not bump the returned memory's access count")
	}
}

func TestConfidenceBreakdown(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	embedder := r.Embedding.(*fakeEmbedder)
	seedTokenMemories(t, store, func(s string) []float32 { return embedder.vectors[s] })

	resp, err := r.Recall(context.Background(), Request{
		QueryText: "token expiry", Project: "proj1", K: 2, CascadeDepth: 1, IncludeConfidence: true,
	})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	for _, it := range resp.Items {
		if it.Confidence == nil {
			t.Fatal("item missing confidence breakdown")
		}
		if it.Confidence.Overall < 0 || it.Confidence.Overall > 1 {
			t.Errorf("overall confidence %f out of range", it.Confidence.Overall)
		}
		if it.Confidence.Level == "" {
			t.Error("confidence level not set")
		}
	}
}
