package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentmem/internal/logging"
)

// OllamaEngine talks to a local Ollama server's /api/embeddings endpoint.
type OllamaEngine struct {
	endpoint string
	model    string
	dim      int
	client   *http.Client
}

// NewOllamaEngine builds the local adapter. Construction never dials the
// server; a dead endpoint surfaces as a retried-then-failed Embed call.
func NewOllamaEngine(endpoint, model string, dim int) (*OllamaEngine, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		dim:      dim,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests one embedding, retrying transient failures.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Ollama.Embed")
	defer timer.Stop()

	var vec []float32
	err := withRetry(ctx, "ollama embed", func() error {
		body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("ollama status %d: %s", resp.StatusCode, msg)
		}
		var result ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}
		vec = result.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds sequentially; Ollama has no native batch API.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d of %d: %w", i+1, len(texts), err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *OllamaEngine) Dimensions() int { return e.dim }

func (e *OllamaEngine) Name() string { return fmt.Sprintf("ollama:%s", e.model) }
