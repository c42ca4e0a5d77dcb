package engine

import (
	"context"
	"fmt"

	"agentmem/internal/operations"
	"agentmem/internal/types"
)

type taskSummary struct {
	ID       int64              `json:"id"`
	Content  string             `json:"content"`
	Priority types.TaskPriority `json:"priority"`
	Status   types.TaskStatus   `json:"status"`
	Phase    types.TaskPhase    `json:"phase"`
}

func summarizeTasks(tasks []types.Task) []taskSummary {
	out := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = taskSummary{ID: t.ID, Content: snippet(t.Content, 120), Priority: t.Priority, Status: t.Status, Phase: t.Phase}
	}
	return out
}

func (e *Engine) registerProspectiveOps() {
	taskList := func(name, description string, schema operations.Schema, load func(ctx context.Context, project string, args map[string]any) ([]types.Task, error)) {
		e.Registry.MustRegister(&operations.Operation{
			ID:          name,
			Layer:       operations.LayerProspective,
			Description: description,
			Schema:      schema,
			Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
				tasks, err := load(ctx, argString(args, "project_id", "default"), args)
				if err != nil {
					return operations.Result{}, err
				}
				summaries := summarizeTasks(tasks)
				lo, hi := pageWindow(args, len(summaries))
				return operations.Result{
					Data:    summaries[lo:hi],
					Total:   len(summaries),
					Summary: fmt.Sprintf("%d tasks", len(summaries)),
				}, nil
			},
		})
	}

	projectOnly := operations.Schema{Optional: []string{"project_id"}}
	taskList("prospective/pending", "List pending tasks.", projectOnly, func(ctx context.Context, project string, _ map[string]any) ([]types.Task, error) {
		return e.Store.Tasks.Pending(ctx, project)
	})
	taskList("prospective/blocking", "List blocked tasks.", projectOnly, func(ctx context.Context, project string, _ map[string]any) ([]types.Task, error) {
		return e.Store.Tasks.Blocking(ctx, project)
	})
	taskList("prospective/overdue", "List tasks past their due date.", projectOnly, func(ctx context.Context, project string, _ map[string]any) ([]types.Task, error) {
		return e.Store.Tasks.Overdue(ctx, project, e.Clock.Now())
	})
	taskList("prospective/by_phase", "List tasks in one phase.",
		operations.Schema{Required: []string{"phase"}, Optional: []string{"project_id"}},
		func(ctx context.Context, project string, args map[string]any) ([]types.Task, error) {
			phase, err := requireString(args, "phase")
			if err != nil {
				return nil, err
			}
			return e.Store.Tasks.ByPhase(ctx, project, types.TaskPhase(phase))
		})
	taskList("prospective/by_goal", "List a goal's tasks.",
		operations.Schema{Required: []string{"goal_id"}, Types: map[string]string{"goal_id": "integer"}},
		func(ctx context.Context, project string, args map[string]any) ([]types.Task, error) {
			goalID, err := requireInt64(args, "goal_id")
			if err != nil {
				return nil, err
			}
			return e.Store.Tasks.ByGoal(ctx, goalID)
		})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "prospective/create_task",
		Layer:       operations.LayerProspective,
		Description: "Create a prospective task (starts pending, planning phase).",
		Schema: operations.Schema{
			Required: []string{"content"},
			Optional: []string{"priority", "assignee", "due_at", "triggers", "goal_id", "project_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			content, err := requireString(args, "content")
			if err != nil {
				return operations.Result{}, err
			}
			t := &types.Task{
				ProjectID: argString(args, "project_id", "default"),
				Content:   content,
				Priority:  types.TaskPriority(argString(args, "priority", string(types.PriorityMedium))),
				Assignee:  argString(args, "assignee", ""),
				Triggers:  argStrings(args, "triggers"),
				GoalID:    argInt64(args, "goal_id", 0),
			}
			if due, err := argTime(args, "due_at"); err != nil {
				return operations.Result{}, err
			} else if !due.IsZero() {
				t.DueAt = &due
			}
			id, err := e.Store.Tasks.Create(ctx, t)
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("task %d created", id),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "prospective/transition_phase",
		Layer:       operations.LayerProspective,
		Description: "Advance a task's phase; backward moves require allow_replan=true.",
		Schema: operations.Schema{
			Required: []string{"task_id", "phase"},
			Optional: []string{"allow_replan"},
			Types:    map[string]string{"task_id": "integer", "phase": "string", "allow_replan": "boolean"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			taskID, err := requireInt64(args, "task_id")
			if err != nil {
				return operations.Result{}, err
			}
			phase, err := requireString(args, "phase")
			if err != nil {
				return operations.Result{}, err
			}
			if err := e.Store.Tasks.TransitionPhase(ctx, taskID, types.TaskPhase(phase), argBool(args, "allow_replan")); err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": taskID, "phase": phase},
				Total:   1,
				Summary: fmt.Sprintf("task %d now %s", taskID, phase),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "prospective/set_status",
		Layer:       operations.LayerProspective,
		Description: "Set a task's status; completed_at is stamped iff status becomes completed.",
		Schema: operations.Schema{
			Required: []string{"task_id", "status"},
			Types:    map[string]string{"task_id": "integer", "status": "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			taskID, err := requireInt64(args, "task_id")
			if err != nil {
				return operations.Result{}, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return operations.Result{}, err
			}
			if err := e.Store.Tasks.SetStatus(ctx, taskID, types.TaskStatus(status)); err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": taskID, "status": status},
				Total:   1,
				Summary: fmt.Sprintf("task %d now %s", taskID, status),
			}, nil
		},
	})

	e.Registry.MustRegister(&operations.Operation{
		ID:          "prospective/create_goal",
		Layer:       operations.LayerProspective,
		Description: "Create a goal grouping tasks toward a named outcome.",
		Schema: operations.Schema{
			Required: []string{"name"},
			Optional: []string{"description", "project_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (operations.Result, error) {
			name, err := requireString(args, "name")
			if err != nil {
				return operations.Result{}, err
			}
			id, err := e.Store.Tasks.CreateGoal(ctx, &types.Goal{
				ProjectID:   argString(args, "project_id", "default"),
				Name:        name,
				Description: argString(args, "description", ""),
			})
			if err != nil {
				return operations.Result{}, err
			}
			return operations.Result{
				Data:    map[string]any{"id": id},
				Total:   1,
				Summary: fmt.Sprintf("goal %q created as %d", name, id),
			}, nil
		},
	})
}
