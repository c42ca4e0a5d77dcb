package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// SessionStore persists session_contexts and the bounded recent-events
// ring. The ring is stored as rows so it
// survives a process restart; hooks.Dispatcher keeps the authoritative
// in-memory copy and treats this as a write-behind durability layer.
type SessionStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewSessionStore(db *sql.DB, c clock.Clock) *SessionStore {
	return &SessionStore{db: db, clock: c}
}

// Start creates a session context (hook: session_start).
func (s *SessionStore) Start(ctx context.Context, sc *types.SessionContext) error {
	now := s.clock.Now()
	if sc.StartedAt.IsZero() {
		sc.StartedAt = now
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO session_contexts
		(session_id, project_id, task, phase, started_at, consolidation_history_json)
		VALUES (?, ?, ?, ?, ?, '[]')
		ON CONFLICT(session_id) DO UPDATE SET project_id=excluded.project_id, started_at=excluded.started_at`,
		sc.SessionID, sc.ProjectID, sc.Task, sc.Phase, sc.StartedAt)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "start session context")
	}
	return nil
}

// End marks a session context as ended (hook: session_end).
func (s *SessionStore) End(ctx context.Context, sessionID string) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE session_contexts SET ended_at = ? WHERE session_id = ?`, now, sessionID)
	return err
}

// UpdateTaskPhase updates the session's current task/phase tags.
func (s *SessionStore) UpdateTaskPhase(ctx context.Context, sessionID, task, phase string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE session_contexts SET task = ?, phase = ? WHERE session_id = ?`, task, phase, sessionID)
	return err
}

// AppendConsolidationRun records a consolidation run id against the session.
func (s *SessionStore) AppendConsolidationRun(ctx context.Context, sessionID string, runID int64) error {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	history := append(sc.ConsolidationHistory, runID)
	b, _ := json.Marshal(history)
	_, err = s.db.ExecContext(ctx, `UPDATE session_contexts SET consolidation_history_json = ? WHERE session_id = ?`, string(b), sessionID)
	return err
}

// Get loads a session context (without the recent-events ring; callers that
// need events call Ring separately).
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*types.SessionContext, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, project_id, task, phase, started_at, ended_at,
		consolidation_history_json FROM session_contexts WHERE session_id = ?`, sessionID)
	var sc types.SessionContext
	var ended sql.NullTime
	var historyJSON string
	if err := row.Scan(&sc.SessionID, &sc.ProjectID, &sc.Task, &sc.Phase, &sc.StartedAt, &ended, &historyJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewError(types.ErrNotFound, false, "session %s not found", sessionID)
		}
		return nil, types.Wrap(types.ErrInternal, false, err, "scan session context")
	}
	if ended.Valid {
		sc.EndedAt = &ended.Time
	}
	_ = json.Unmarshal([]byte(historyJSON), &sc.ConsolidationHistory)
	return &sc, nil
}

// PushRingEvent appends an event id to the session's ring and trims rows
// beyond capacity.
func (s *SessionStore) PushRingEvent(ctx context.Context, sessionID string, eventID int64, capacity int) error {
	now := s.clock.Now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO session_context_events (session_id, event_id, added_at) VALUES (?, ?, ?)`,
		sessionID, eventID, now); err != nil {
		return types.Wrap(types.ErrInternal, false, err, "push ring event")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_context_events WHERE session_id = ? AND id NOT IN (
		SELECT id FROM session_context_events WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
		sessionID, sessionID, capacity)
	return err
}

// RingEventIDs returns the event ids currently in the session's ring,
// oldest first.
func (s *SessionStore) RingEventIDs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id FROM session_context_events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "load ring events")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
