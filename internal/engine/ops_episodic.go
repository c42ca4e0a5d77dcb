package engine

import (
	"context"
	"fmt"
	"time"

	"agentmem/internal/hooks"
	"agentmem/internal/operations"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// eventSummary is the summary-first projection of an Event: enough to decide
// whether to drill down, never the full row.
type eventSummary struct {
	ID        int64                 `json:"id"`
	SessionID string                `json:"session_id"`
	EventType types.EventType       `json:"event_type"`
	Content   string                `json:"content"`
	Outcome   types.Outcome         `json:"outcome"`
	Lifecycle types.LifecycleStatus `json:"lifecycle_status"`
	Timestamp time.Time             `json:"timestamp"`
}

func summarizeEvents(events []types.Event) []eventSummary {
	out := make([]eventSummary, len(events))
	for i, ev := range events {
		out[i] = eventSummary{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			EventType: ev.EventType,
			Content:   snippet(ev.Content, 120),
			Outcome:   ev.Outcome,
			Lifecycle: ev.LifecycleStatus,
			Timestamp: ev.Timestamp,
		}
	}
	return out
}

func eventArgsFrom(args map[string]any) hooks.Args {
	return hooks.Args{
		SessionID: argString(args, "session_id", ""),
		ProjectID: argString(args, "project_id", "default"),
		Content:   argString(args, "content", ""),
		EventType: types.EventType(argString(args, "event_type", string(types.EventAction))),
		Outcome:   types.Outcome(argString(args, "outcome", string(types.OutcomeNone))),
		Context: types.EventContext{
			Task:  argString(args, "task", ""),
			Phase: argString(args, "phase", ""),
			CWD:   argString(args, "cwd", ""),
			Files: argStrings(args, "files"),
		},
		Importance: argFloat(args, "importance_score", 0),
		Confidence: argFloat(args, "confidence", 0),
		DurationMs: argInt64(args, "duration_ms", 0),
	}
}

func (e *Engine) registerEpisodicOps() {
	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/append",
		Layer:       operations.LayerEpisodic,
		Description: "Append one event to the episodic log; a duplicate hash returns the original id with deduplicated=true.",
		Schema: operations.Schema{
			Required: []string{"session_id", "content"},
			Optional: []string{"event_type", "outcome", "task", "phase", "cwd", "files", "learned", "importance_score", "confidence", "duration_ms", "project_id"},
			Types:    map[string]string{"session_id": "string", "content": "string", "importance_score": "number"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			if _, err := requireString(args, "session_id"); err != nil {
				return operations.Result{}, err
			}
			if _, err := requireString(args, "content"); err != nil {
				return operations.Result{}, err
			}
			a := eventArgsFrom(args)
			ev := &types.Event{
				ProjectID:       a.ProjectID,
				SessionID:       a.SessionID,
				EventType:       a.EventType,
				Content:         a.Content,
				Outcome:         a.Outcome,
				Context:         a.Context,
				Learned:         argString(args, "learned", ""),
				ImportanceScore: a.Importance,
				Confidence:      a.Confidence,
				DurationMs:      a.DurationMs,
			}
			if e.Embedding != nil {
				if vec, err := e.Embedding.Embed(ctx, ev.Content); err == nil {
					ev.Embedding = vec
				}
			}
			res, err := e.Store.Events.Append(ctx, ev)
			if err != nil {
				return operations.Result{}, err
			}
			summary := fmt.Sprintf("event %d appended", res.ID)
			if res.Deduplicated {
				summary = fmt.Sprintf("event %d deduplicated", res.ID)
			}
			return operations.Result{
				Data:    map[string]any{"id": res.ID, "deduplicated": res.Deduplicated},
				Total:   1,
				Summary: summary,
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/fire_hook",
		Layer:       operations.LayerEpisodic,
		Description: "Fire a lifecycle hook through the idempotency, rate-limit, and cascade guards; the fire is persisted as an event.",
		Schema: operations.Schema{
			Required: []string{"hook_id", "session_id"},
			Optional: []string{"content", "event_type", "outcome", "task", "phase", "project_id"},
			Types:    map[string]string{"hook_id": "string", "session_id": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			hookID, err := requireString(args, "hook_id")
			if err != nil {
				return operations.Result{}, err
			}
			if _, err := requireString(args, "session_id"); err != nil {
				return operations.Result{}, err
			}
			res, err := e.Hooks.Fire(ctx, hooks.ID(hookID), eventArgsFrom(args))
			if err != nil {
				return operations.Result{}, err
			}
			data := map[string]any{"event_id": res.EventID, "deduplicated": res.Deduplicated}
			if res.Recovery != nil {
				data["recovery"] = res.Recovery
			}
			return operations.Result{
				Data:    data,
				Total:   1,
				Summary: fmt.Sprintf("hook %s fired: event %d", hookID, res.EventID),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/range",
		Layer:       operations.LayerEpisodic,
		Description: "List events in a time window, newest first (summaries only).",
		Schema: operations.Schema{
			Optional: []string{"from", "to", "session_id", "event_types", "lifecycle", "project_id"},
			Types:    map[string]string{"from": "rfc3339", "to": "rfc3339"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			project := argString(args, "project_id", "default")
			from, err := argTime(args, "from")
			if err != nil {
				return operations.Result{}, err
			}
			to, err := argTime(args, "to")
			if err != nil {
				return operations.Result{}, err
			}
			if to.IsZero() {
				to = e.Clock.Now()
			}
			filters := storage.EventFilters{SessionID: argString(args, "session_id", "")}
			for _, s := range argStrings(args, "event_types") {
				filters.EventTypes = append(filters.EventTypes, types.EventType(s))
			}
			for _, s := range argStrings(args, "lifecycle") {
				filters.Lifecycle = append(filters.Lifecycle, types.LifecycleStatus(s))
			}
			events, err := e.Store.Events.GetRange(ctx, project, from, to, filters)
			if err != nil {
				return operations.Result{}, err
			}
			summaries := summarizeEvents(events)
			lo, hi := pageWindow(args, len(summaries))
			return operations.Result{
				Data:    summaries[lo:hi],
				Total:   len(summaries),
				Summary: fmt.Sprintf("%d events", len(summaries)),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/by_session",
		Layer:       operations.LayerEpisodic,
		Description: "List one session's events in append order (summaries only).",
		Schema:      operations.Schema{Required: []string{"session_id"}, Optional: []string{"project_id"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			sessionID, err := requireString(args, "session_id")
			if err != nil {
				return operations.Result{}, err
			}
			events, err := e.Store.Events.GetBySession(ctx, argString(args, "project_id", "default"), sessionID)
			if err != nil {
				return operations.Result{}, err
			}
			summaries := summarizeEvents(events)
			lo, hi := pageWindow(args, len(summaries))
			return operations.Result{
				Data:    summaries[lo:hi],
				Total:   len(summaries),
				Summary: fmt.Sprintf("%d events in session %s", len(summaries), sessionID),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/get",
		Layer:       operations.LayerEpisodic,
		Description: "Fetch one event in full by id.",
		Schema:      operations.Schema{Required: []string{"id"}, Types: map[string]string{"id": "integer"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			id, err := requireInt64(args, "id")
			if err != nil {
				return operations.Result{}, err
			}
			ev, err := e.Store.Events.GetByID(ctx, id)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{Data: ev, Total: 1, Summary: fmt.Sprintf("event %d", id)}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "episodic/archive_sweep",
		Layer:       operations.LayerEpisodic,
		Description: "Archive consolidated events whose last activation predates the retention window.",
		Schema:      operations.Schema{Optional: []string{"project_id", "retention_days"}},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			project := argString(args, "project_id", "default")
			days := argInt(args, "retention_days", e.Cfg.Storage.RetentionDays)
			n, err := e.Consolidation.RetentionSweep(ctx, project, days)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"archived": n},
				Total:   n,
				Summary: fmt.Sprintf("archived %d events", n),
			}, nil
		},
	})
}
