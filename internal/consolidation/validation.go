package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/types"
)

// Validation is the LLM's judgment on a Candidate.
type Validation struct {
	Valid          bool
	RefinedContent string
	Confidence     float64
	Category       string
	Deferred       bool // network failure or timeout: not discarded, re-consolidatable later
}

var validationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"valid":           map[string]any{"type": "boolean"},
		"refined_content": map[string]any{"type": "string"},
		"confidence":      map[string]any{"type": "number"},
		"category":        map[string]any{"type": "string", "enum": []string{"fact", "pattern", "decision", "context", "principle"}},
	},
	"required": []string{"valid", "refined_content", "confidence", "category"},
}

const validationSystemPrompt = `You validate candidate patterns distilled from an AI coding agent's episodic
memory. Given a draft pattern description and its supporting evidence, decide
whether it captures a real, reusable regularity. Respond only with the
requested JSON object.`

// Validate sends a Candidate to the LLM client for System 2 review. On
// timeout or any
// client error the candidate is deferred, never discarded.
func Validate(ctx context.Context, client llmclient.Client, c Candidate, deadline time.Duration) Validation {
	if client == nil {
		return Validation{Deferred: true}
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	prompt := fmt.Sprintf(
		"Candidate pattern (support=%d, cohesion=%.2f, outcome_variance=%.2f):\n%s",
		c.SupportCount, c.Cohesion, c.OutcomeVariance, c.Content)

	raw, err := client.CompleteStructured(callCtx, validationSystemPrompt, prompt, validationSchema)
	if err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("Validate: cluster=%s deferred: %v", c.ClusterKey, err)
		return Validation{Deferred: true}
	}

	var parsed struct {
		Valid          bool    `json:"valid"`
		RefinedContent string  `json:"refined_content"`
		Confidence     float64 `json:"confidence"`
		Category       string  `json:"category"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("Validate: cluster=%s unparseable response, deferred: %v", c.ClusterKey, err)
		return Validation{Deferred: true}
	}

	return Validation{
		Valid:          parsed.Valid,
		RefinedContent: parsed.RefinedContent,
		Confidence:     parsed.Confidence,
		Category:       parsed.Category,
	}
}

// fastAccept is the System 1 fallback for candidates below the validation
// threshold: accepted without LLM review.
func fastAccept(c Candidate) Validation {
	return Validation{
		Valid:          true,
		RefinedContent: c.Content,
		Confidence:     1 - c.Uncertainty,
		Category:       string(memoryTypeOrDefault(c.SuggestedType)),
	}
}

func memoryTypeOrDefault(t types.MemoryType) types.MemoryType {
	if t == "" {
		return types.MemoryPattern
	}
	return t
}
