package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// TaskStore is standard CRUD plus phase transitions over prospective Tasks
// and Goals.
type TaskStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewTaskStore(db *sql.DB, c clock.Clock) *TaskStore {
	return &TaskStore{db: db, clock: c}
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, t *types.Task) (int64, error) {
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Phase == "" {
		t.Phase = types.PhasePlanning
	}
	triggersJSON, _ := json.Marshal(t.Triggers)
	now := s.clock.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO prospective_tasks
		(project_id, content, priority, status, phase, assignee, due_at, triggers_json, goal_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Content, string(t.Priority), string(t.Status), string(t.Phase),
		nullableString(t.Assignee), nullableTimePtr(t.DueAt), string(triggersJSON), nullableInt64(t.GoalID), t.CreatedAt, nullableTimePtr(t.CompletedAt))
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert task")
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return id, nil
}

// TransitionPhase moves a task's phase forward, or backward only when
// allowReplan is set.
func (s *TaskStore) TransitionPhase(ctx context.Context, id int64, to types.TaskPhase, allowReplan bool) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !allowReplan && !types.CanAdvance(t.Phase, to) {
		return types.NewError(types.ErrInvalidArgument, false, "cannot move task %d from phase %s to %s without replan", id, t.Phase, to)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE prospective_tasks SET phase = ? WHERE id = ?`, string(to), id)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "transition task phase")
	}
	return nil
}

// SetStatus updates status, setting completed_at iff status=completed.
func (s *TaskStore) SetStatus(ctx context.Context, id int64, status types.TaskStatus) error {
	var completedAt any
	if status == types.TaskCompleted {
		completedAt = s.clock.Now()
	} else {
		completedAt = nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE prospective_tasks SET status = ?, completed_at = ? WHERE id = ?`, string(status), completedAt, id)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "set task status")
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id int64) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, selectTaskSQL+" WHERE id = ?", id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.ErrNotFound, false, "task %d not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "scan task")
	}
	return t, nil
}

const selectTaskSQL = `SELECT id, project_id, content, priority, status, phase, assignee, due_at, triggers_json, goal_id, created_at, completed_at FROM prospective_tasks`

func scanTaskRow(row rowScanner) (*types.Task, error) {
	var t types.Task
	var priority, status, phase string
	var assignee sql.NullString
	var dueAt, completedAt sql.NullTime
	var triggersJSON string
	var goalID sql.NullInt64

	if err := row.Scan(&t.ID, &t.ProjectID, &t.Content, &priority, &status, &phase, &assignee, &dueAt, &triggersJSON, &goalID, &t.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.Priority = types.TaskPriority(priority)
	t.Status = types.TaskStatus(status)
	t.Phase = types.TaskPhase(phase)
	if assignee.Valid {
		t.Assignee = assignee.String
	}
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	if goalID.Valid {
		t.GoalID = goalID.Int64
	}
	_ = json.Unmarshal([]byte(triggersJSON), &t.Triggers)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]types.Task, error) {
	var out []types.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Pending returns pending tasks for a project.
func (s *TaskStore) Pending(ctx context.Context, project string) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE project_id = ? AND status = ? ORDER BY created_at ASC", project, string(types.TaskPending))
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query pending tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ByGoal returns all tasks belonging to a goal.
func (s *TaskStore) ByGoal(ctx context.Context, goalID int64) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE goal_id = ? ORDER BY created_at ASC", goalID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query tasks by goal")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Blocking returns tasks with status=blocked.
func (s *TaskStore) Blocking(ctx context.Context, project string) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE project_id = ? AND status = ? ORDER BY created_at ASC", project, string(types.TaskBlocked))
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query blocking tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Overdue returns incomplete tasks whose due_at has passed `now`.
func (s *TaskStore) Overdue(ctx context.Context, project string, now time.Time) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+` WHERE project_id = ? AND status NOT IN (?, ?) AND due_at IS NOT NULL AND due_at < ? ORDER BY due_at ASC`,
		project, string(types.TaskCompleted), string(types.TaskCancelled), now)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query overdue tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ByPhase returns tasks in a given phase.
func (s *TaskStore) ByPhase(ctx context.Context, project string, phase types.TaskPhase) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTaskSQL+" WHERE project_id = ? AND phase = ? ORDER BY created_at ASC", project, string(phase))
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query tasks by phase")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CreateGoal inserts a new goal.
func (s *TaskStore) CreateGoal(ctx context.Context, g *types.Goal) (int64, error) {
	taskIDsJSON, _ := json.Marshal(g.TaskIDs)
	now := s.clock.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO prospective_goals (project_id, name, description, progress, task_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, g.ProjectID, g.Name, g.Description, g.Progress, string(taskIDsJSON), g.CreatedAt)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert goal")
	}
	id, _ := res.LastInsertId()
	g.ID = id
	return id, nil
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
