package storage

import (
	"context"
	"testing"
	"time"

	"agentmem/internal/types"
)

func createTask(t *testing.T, s *Store, content string) int64 {
	t.Helper()
	id, err := s.Tasks.Create(context.Background(), &types.Task{
		ProjectID: "proj1",
		Content:   content,
		Priority:  types.PriorityMedium,
	})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", content, err)
	}
	return id
}

func TestPhaseTransitionsForwardOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := createTask(t, s, "add TTL checks to token validation")

	if err := s.Tasks.TransitionPhase(ctx, id, types.PhaseExecuting, false); err != nil {
		t.Fatalf("forward transition error = %v", err)
	}

	// Backward without replan must be rejected.
	if err := s.Tasks.TransitionPhase(ctx, id, types.PhasePlanning, false); err == nil {
		t.Fatal("backward transition without replan succeeded")
	}

	// Explicit replan allows going back.
	if err := s.Tasks.TransitionPhase(ctx, id, types.PhasePlanning, true); err != nil {
		t.Fatalf("replan transition error = %v", err)
	}

	task, err := s.Tasks.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if task.Phase != types.PhasePlanning {
		t.Errorf("phase = %s, want planning", task.Phase)
	}
}

func TestCompletedAtSetIffCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := createTask(t, s, "wire retention sweep into scheduler")

	task, _ := s.Tasks.GetByID(ctx, id)
	if task.CompletedAt != nil {
		t.Fatal("new task already has completed_at")
	}

	if err := s.Tasks.SetStatus(ctx, id, types.TaskCompleted); err != nil {
		t.Fatalf("SetStatus(completed) error = %v", err)
	}
	task, _ = s.Tasks.GetByID(ctx, id)
	if task.CompletedAt == nil {
		t.Fatal("completed task has no completed_at")
	}

	if err := s.Tasks.SetStatus(ctx, id, types.TaskActive); err != nil {
		t.Fatalf("SetStatus(active) error = %v", err)
	}
	task, _ = s.Tasks.GetByID(ctx, id)
	if task.CompletedAt != nil {
		t.Fatal("completed_at kept after leaving completed status")
	}
}

func TestTaskQueries(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	pendingID := createTask(t, s, "pending work")
	blockedID := createTask(t, s, "blocked work")
	if err := s.Tasks.SetStatus(ctx, blockedID, types.TaskBlocked); err != nil {
		t.Fatalf("SetStatus(blocked) error = %v", err)
	}

	due := c.Now().Add(-time.Hour)
	overdueID, err := s.Tasks.Create(ctx, &types.Task{
		ProjectID: "proj1", Content: "overdue work", Priority: types.PriorityHigh, DueAt: &due,
	})
	if err != nil {
		t.Fatalf("Create(overdue) error = %v", err)
	}

	pending, err := s.Tasks.Pending(ctx, "proj1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if !containsTaskID(pending, pendingID) || containsTaskID(pending, blockedID) {
		t.Errorf("Pending() = %v", pending)
	}

	blocking, err := s.Tasks.Blocking(ctx, "proj1")
	if err != nil {
		t.Fatalf("Blocking() error = %v", err)
	}
	if !containsTaskID(blocking, blockedID) {
		t.Errorf("Blocking() = %v", blocking)
	}

	overdue, err := s.Tasks.Overdue(ctx, "proj1", c.Now())
	if err != nil {
		t.Fatalf("Overdue() error = %v", err)
	}
	if !containsTaskID(overdue, overdueID) {
		t.Errorf("Overdue() = %v", overdue)
	}
}

func TestGoalGroupsTasks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	goalID, err := s.Tasks.CreateGoal(ctx, &types.Goal{ProjectID: "proj1", Name: "ship auth"})
	if err != nil {
		t.Fatalf("CreateGoal() error = %v", err)
	}
	taskID, err := s.Tasks.Create(ctx, &types.Task{
		ProjectID: "proj1", Content: "rotate refresh tokens", Priority: types.PriorityMedium, GoalID: goalID,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tasks, err := s.Tasks.ByGoal(ctx, goalID)
	if err != nil {
		t.Fatalf("ByGoal() error = %v", err)
	}
	if !containsTaskID(tasks, taskID) {
		t.Errorf("ByGoal() = %v", tasks)
	}
}

func containsTaskID(tasks []types.Task, id int64) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
