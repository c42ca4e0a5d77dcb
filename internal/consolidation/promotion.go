package consolidation

import (
	"context"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// Promotion is the result of promoting one validated Candidate into the
// semantic or procedural store.
type Promotion struct {
	MemoryID    int64
	ProcedureID int64
}

// Promote writes a validated Candidate as a Memory, or as a Procedure when
// the cluster looked like a repeated action sequence.
func Promote(ctx context.Context, store *storage.Store, project string, c Candidate, v Validation) (Promotion, error) {
	content := c.Content
	if v.RefinedContent != "" {
		content = v.RefinedContent
	}
	memType := c.SuggestedType
	if v.Category != "" {
		memType = types.MemoryType(v.Category)
	}

	if c.IsProcedural {
		p := &types.Procedure{
			ProjectID:      project,
			Name:           proceduralName(c),
			Category:       string(memType),
			Template:       content,
			SuccessRate:    1 - c.OutcomeVariance,
			TriggerPattern: c.TriggerPattern,
			SourceEventIDs: c.SourceEventIDs,
		}
		id, err := store.Procedures.Create(ctx, p)
		if err != nil {
			return Promotion{}, err
		}
		return Promotion{ProcedureID: id}, nil
	}

	m := &types.Memory{
		ProjectID:       project,
		Content:         content,
		MemoryType:      memType,
		Importance:      v.Confidence,
		Quality:         1 - c.OutcomeVariance,
		UsefulnessScore: 0.5,
		SourceEventIDs:  c.SourceEventIDs,
	}
	id, err := store.Semantic.Store(ctx, m)
	if err != nil {
		return Promotion{}, err
	}
	return Promotion{MemoryID: id}, nil
}

func proceduralName(c Candidate) string {
	if c.TriggerPattern != "" {
		return c.TriggerPattern
	}
	return c.ClusterKey
}
