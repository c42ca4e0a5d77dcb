package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOllamaEmbedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "embeddinggemma", 3)
	if err != nil {
		t.Fatalf("NewOllamaEngine() error = %v", err)
	}
	vec, err := e.Embed(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("Embed() error after retries = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want 3", len(vec))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3 (two failures + success)", got)
	}
}

func TestOllamaEmbedGivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "embeddinggemma", 3)
	if _, err := e.Embed(context.Background(), "never works"); err == nil {
		t.Fatal("permanently failing provider did not error")
	}
}

func TestOllamaEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Vector encodes the prompt length so order is observable.
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{float32(len(req.Prompt))}})
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "embeddinggemma", 1)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want [%v]", i, vecs[i], want)
		}
	}
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "word2vec"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim, _ := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim != 1 {
		t.Errorf("identical vectors: %f, want 1", sim)
	}
	if sim, _ := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0 {
		t.Errorf("orthogonal vectors: %f, want 0", sim)
	}
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("dimension mismatch accepted")
	}
}

func TestFindTopK(t *testing.T) {
	corpus := [][]float32{
		{0, 1},   // orthogonal
		{1, 0},   // identical direction
		{1, 0.2}, // close
	}
	results, err := FindTopK([]float32{1, 0}, corpus, 2)
	if err != nil {
		t.Fatalf("FindTopK() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 1 || results[1].Index != 2 {
		t.Errorf("ranking = %v", results)
	}
}
