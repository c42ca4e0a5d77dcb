package consolidation

import (
	"context"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// ApplyLifecycle flips the source events of a promoted or deferred
// candidate to their post-run lifecycle status. Promoted candidates move to consolidated; deferred
// ones are left active so a future run can pick them up again.
func ApplyLifecycle(ctx context.Context, store *storage.Store, c Candidate, v Validation) error {
	if v.Deferred {
		return nil
	}
	status := types.LifecycleActive
	score := 0.0
	if v.Valid {
		status = types.LifecycleConsolidated
		score = v.Confidence
	}
	for _, id := range c.SourceEventIDs {
		if err := store.Events.UpdateLifecycle(ctx, id, status, score); err != nil {
			return err
		}
	}
	return nil
}
