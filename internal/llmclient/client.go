// Package llmclient provides the LLM client used by consolidation's System 2
// (slow, validated) pass: pattern validation, procedure synthesis, and dream
// narrative generation.
package llmclient

import (
	"context"
	"fmt"
	"time"

	"agentmem/internal/logging"

	"google.golang.org/genai"
)

// Client is the minimal surface consolidation and recall need from an LLM:
// free-form completion plus schema-constrained structured completion for
// pattern/conflict judgments that must parse as JSON.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, error)
	Name() string
}

// Config configures the GenAI-backed client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
}

func DefaultConfig() Config {
	return Config{Model: "gemini-2.0-flash", Temperature: 0.2}
}

// GenAIClient implements Client against Google's Gemini API via
// google.golang.org/genai, mirroring internal/embedding's GenAIEngine.
type GenAIClient struct {
	client *genai.Client
	model  string
	temp   float64
}

func NewGenAIClient(ctx context.Context, cfg Config) (*GenAIClient, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "NewGenAIClient")
	defer timer.Stop()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("llmclient: create genai client: %w", err)
	}
	return &GenAIClient{client: client, model: cfg.Model, temp: cfg.Temperature}, nil
}

func (c *GenAIClient) Name() string { return fmt.Sprintf("genai:%s", c.model) }

func (c *GenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	start := time.Now()

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(c.temp))}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		log.Error("Complete: genai request failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("llmclient: generate content: %w", err)
	}
	text := resp.Text()
	log.Debug("Complete: %d chars returned in %v", len(text), time.Since(start))
	return text, nil
}

// CompleteStructured asks for a response constrained to a JSON schema, used
// by consolidation's pattern validator and conflict detector so the result
// parses deterministically.
func (c *GenAIClient) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	start := time.Now()

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(c.temp)),
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if schema != nil {
		cfg.ResponseSchema = schemaFromMap(schema)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		log.Error("CompleteStructured: genai request failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("llmclient: generate structured content: %w", err)
	}
	text := resp.Text()
	log.Debug("CompleteStructured: %d chars returned in %v", len(text), time.Since(start))
	return text, nil
}

// schemaFromMap converts a plain JSON-schema-shaped map into a genai.Schema.
// Only the subset consolidation actually emits (object/string/number/integer/
// array/boolean with properties+required) is supported.
func schemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "array":
			s.Type = genai.TypeArray
		case "string":
			s.Type = genai.TypeString
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[k] = schemaFromMap(sub)
			}
		}
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	return s
}
