package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// ProcedureStore holds reusable templated workflows promoted by
// consolidation, along with their execution history.
type ProcedureStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewProcedureStore(db *sql.DB, c clock.Clock) *ProcedureStore {
	return &ProcedureStore{db: db, clock: c}
}

func (s *ProcedureStore) Create(ctx context.Context, p *types.Procedure) (int64, error) {
	paramsJSON, _ := json.Marshal(p.Params)
	examplesJSON, _ := json.Marshal(p.Examples)
	sourceJSON, _ := json.Marshal(p.SourceEventIDs)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO procedures
		(project_id, name, category, template, params_json, success_rate, usage_count, avg_duration_ms, trigger_pattern, examples_json, source_event_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.Category, p.Template, string(paramsJSON), p.SuccessRate, p.UsageCount, p.AvgDurationMs, p.TriggerPattern, string(examplesJSON), string(sourceJSON), p.CreatedAt)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert procedure")
	}
	id, _ := res.LastInsertId()
	p.ID = id
	return id, nil
}

const selectProcedureSQL = `SELECT id, project_id, name, category, template, params_json, success_rate, usage_count, avg_duration_ms, trigger_pattern, examples_json, source_event_ids_json, created_at FROM procedures`

func scanProcedureRow(row rowScanner) (*types.Procedure, error) {
	var p types.Procedure
	var paramsJSON, examplesJSON, sourceJSON string
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Category, &p.Template, &paramsJSON, &p.SuccessRate, &p.UsageCount, &p.AvgDurationMs, &p.TriggerPattern, &examplesJSON, &sourceJSON, &p.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(paramsJSON), &p.Params)
	_ = json.Unmarshal([]byte(examplesJSON), &p.Examples)
	_ = json.Unmarshal([]byte(sourceJSON), &p.SourceEventIDs)
	return &p, nil
}

func (s *ProcedureStore) GetByID(ctx context.Context, id int64) (*types.Procedure, error) {
	row := s.db.QueryRowContext(ctx, selectProcedureSQL+" WHERE id = ?", id)
	p, err := scanProcedureRow(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.ErrNotFound, false, "procedure %d not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "scan procedure")
	}
	return p, nil
}

// AllForProject lists every procedure in a project, best success rate
// first, for callers (e.g. recall's layer-local procedural search) that
// need to rank by textual similarity rather than an exact trigger match.
func (s *ProcedureStore) AllForProject(ctx context.Context, project string) ([]types.Procedure, error) {
	rows, err := s.db.QueryContext(ctx, selectProcedureSQL+" WHERE project_id = ? ORDER BY success_rate DESC", project)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "list procedures")
	}
	defer rows.Close()
	var out []types.Procedure
	for rows.Next() {
		p, err := scanProcedureRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ByTriggerPattern finds procedures whose trigger_pattern matches the
// given pattern string, ordered by success_rate desc (best-first).
func (s *ProcedureStore) ByTriggerPattern(ctx context.Context, project, pattern string) ([]types.Procedure, error) {
	rows, err := s.db.QueryContext(ctx, selectProcedureSQL+" WHERE project_id = ? AND trigger_pattern = ? ORDER BY success_rate DESC", project, pattern)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query procedures by trigger")
	}
	defer rows.Close()
	var out []types.Procedure
	for rows.Next() {
		p, err := scanProcedureRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecordExecution logs an execution and updates the procedure's
// success_rate by an exponential moving average (weight 0.2; success counts
// 1, partial 0.5, any other outcome 0) and its avg_duration_ms by a running
// mean, rather than overwriting on every run.
func (s *ProcedureStore) RecordExecution(ctx context.Context, e *types.ProcedureExecution) (int64, error) {
	const decay = 0.2

	varsJSON, _ := json.Marshal(e.Variables)
	if e.At.IsZero() {
		e.At = s.clock.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO procedure_executions
		(procedure_id, project_id, outcome, duration_ms, learned, variables_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ProcedureID, e.ProjectID, string(e.Outcome), e.DurationMs, nullableString(e.Learned), string(varsJSON), e.At)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert procedure execution")
	}
	id, _ := res.LastInsertId()
	e.ID = id

	p, err := s.GetByID(ctx, e.ProcedureID)
	if err != nil {
		return id, err
	}
	observed := 0.0
	switch e.Outcome {
	case types.OutcomeSuccess:
		observed = 1.0
	case types.OutcomePartial:
		observed = 0.5
	}
	newRate := p.SuccessRate*(1-decay) + observed*decay
	if p.UsageCount == 0 {
		newRate = observed
	}
	newAvgDuration := p.AvgDurationMs
	if p.UsageCount == 0 {
		newAvgDuration = e.DurationMs
	} else {
		newAvgDuration = (p.AvgDurationMs*p.UsageCount + e.DurationMs) / (p.UsageCount + 1)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE procedures SET success_rate = ?, usage_count = usage_count + 1, avg_duration_ms = ? WHERE id = ?`,
		newRate, newAvgDuration, e.ProcedureID); err != nil {
		return id, types.Wrap(types.ErrInternal, false, err, "update procedure stats")
	}
	return id, nil
}
