package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// Dream kinds.
const (
	DreamConstraintRelaxed = "constraint_relaxed"
	DreamCrossProject      = "cross_project"
	DreamPerturbed         = "parameter_perturbed"
)

var dreamEvaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"plausible": map[string]any{"type": "boolean"},
		"tier":      map[string]any{"type": "integer"},
		"rationale": map[string]any{"type": "string"},
	},
	"required": []string{"plausible", "tier"},
}

const dreamSystemPrompt = `You evaluate a speculative variant of a proven coding procedure or memory.
Judge whether the variant is plausible enough to surface to a future session.
Tier 1 = safe to surface directly. Tier 2 = surface with a caveat. Tier 3 =
reject. Respond only with the requested JSON object.`

// GenerateDreams drafts speculative variants of a promoted procedure for
// later evaluation.
func GenerateDreams(ctx context.Context, store *storage.Store, project string, p types.Procedure) ([]storage.DreamVariant, error) {
	drafts := []storage.DreamVariant{
		{
			ProjectID:      project,
			SourceMemoryID: p.ID,
			Kind:           DreamConstraintRelaxed,
			Content:        fmt.Sprintf("Relaxed variant of %q: drop the trigger precondition %q and retry on broader input.", p.Name, p.TriggerPattern),
		},
		{
			ProjectID:      project,
			SourceMemoryID: p.ID,
			Kind:           DreamCrossProject,
			Content:        fmt.Sprintf("Cross-project generalization of %q: apply the same template outside project %s.", p.Name, project),
		},
		{
			ProjectID:      project,
			SourceMemoryID: p.ID,
			Kind:           DreamPerturbed,
			Content:        fmt.Sprintf("Parameter-perturbed variant of %q: vary templated parameters by one step from observed examples.", p.Name),
		},
	}
	out := make([]storage.DreamVariant, 0, len(drafts))
	for _, d := range drafts {
		if _, err := store.Consolidation.CreateDream(ctx, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// EvaluateDreams runs the LLM tier-evaluation pass over pending dream
// variants, promoting safe (tier 1) variants for recall visibility and
// discarding tier-3 rejects. Per-dream failures defer rather than abort.
func EvaluateDreams(ctx context.Context, store *storage.Store, client llmclient.Client, drafts []storage.DreamVariant, timeout time.Duration) {
	log := logging.Get(logging.CategoryConsolidation)
	for _, d := range drafts {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := client.CompleteStructured(callCtx, dreamSystemPrompt, d.Content, dreamEvaluationSchema)
		cancel()
		if err != nil {
			log.Warn("EvaluateDreams: dream=%d left pending: %v", d.ID, err)
			continue
		}
		var parsed struct {
			Plausible bool `json:"plausible"`
			Tier      int  `json:"tier"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			log.Warn("EvaluateDreams: dream=%d unparseable response: %v", d.ID, err)
			continue
		}
		status := "rejected"
		if parsed.Plausible && parsed.Tier <= 2 {
			status = "evaluated"
		}
		if err := store.Consolidation.EvaluateDream(ctx, d.ID, status, parsed.Tier); err != nil {
			log.Warn("EvaluateDreams: dream=%d status update failed: %v", d.ID, err)
		}
	}
}
