package embedding

import (
	"context"
	"fmt"

	"agentmem/internal/logging"

	"google.golang.org/genai"
)

// genaiMaxBatch is the API's per-request item ceiling; larger batches are
// chunked client-side.
const genaiMaxBatch = 100

// GenAIEngine talks to Google's Gemini embedding API, pinning the output
// dimensionality to the system-wide constant so stored vectors stay
// comparable across model revisions.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dim      int
}

// NewGenAIEngine builds the cloud adapter. The API key comes from the
// environment at process start, never from operation arguments.
func NewGenAIEngine(apiKey, model, taskType string, dim int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("embedding: create GenAI client: %w", err)
	}
	return &GenAIEngine{client: client, model: model, taskType: taskType, dim: dim}, nil
}

func (e *GenAIEngine) embedConfig() *genai.EmbedContentConfig {
	d := int32(e.dim)
	return &genai.EmbedContentConfig{
		TaskType:             e.taskType,
		OutputDimensionality: &d,
	}
}

// Embed requests one embedding, retrying transient failures.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAI.Embed")
	defer timer.Stop()

	var vec []float32
	err := withRetry(ctx, "genai embed", func() error {
		result, err := e.client.Models.EmbedContent(ctx, e.model,
			[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, e.embedConfig())
		if err != nil {
			return err
		}
		if len(result.Embeddings) == 0 {
			return fmt.Errorf("no embeddings returned")
		}
		vec = result.Embeddings[0].Values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch uses the native batch endpoint, chunking past the API's
// 100-item ceiling.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiMaxBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + genaiMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunk [%d:%d]: %w", start, end, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var vecs [][]float32
	err := withRetry(ctx, "genai embed batch", func() error {
		result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedConfig())
		if err != nil {
			return err
		}
		vecs = make([][]float32, len(result.Embeddings))
		for i, emb := range result.Embeddings {
			vecs[i] = emb.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *GenAIEngine) Dimensions() int { return e.dim }

func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
