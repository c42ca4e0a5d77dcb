package consolidation

import (
	"context"
	"time"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// Select gathers the active events eligible for one consolidation run,
// restricted to sessionID when it is non-empty. The window is
// strategy-dependent: speed and balanced look back SelectionWindow from
// now, while minimal and quality (SelectionWindow == 0) have no lower time
// bound, so without a session they consider every active event.
func Select(ctx context.Context, store *storage.Store, project, sessionID string, now time.Time, p Params) ([]types.Event, error) {
	filters := storage.EventFilters{
		Lifecycle: []types.LifecycleStatus{types.LifecycleActive},
		SessionID: sessionID,
	}

	from := time.Time{}
	if p.SelectionWindow > 0 {
		from = now.Add(-p.SelectionWindow)
	}
	events, err := store.Events.GetRange(ctx, project, from, now, filters)
	if err != nil {
		return nil, err
	}
	return dedupByHash(events), nil
}

// dedupByHash keeps one event per hash, preferring the earliest occurrence.
func dedupByHash(events []types.Event) []types.Event {
	seen := make(map[string]bool, len(events))
	out := make([]types.Event, 0, len(events))
	for _, e := range events {
		if seen[e.Hash] {
			continue
		}
		seen[e.Hash] = true
		out = append(out, e)
	}
	return out
}
