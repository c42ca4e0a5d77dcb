package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/types"
)

// EventLog is the append-only episodic event store. Writes are serialized
// per project via projectLocks, giving per-project append-order guarantees.
type EventLog struct {
	db    *sql.DB
	clock clock.Clock

	mu           sync.Mutex
	projectLocks map[string]*sync.Mutex
}

// NewEventLog wraps db as an EventLog.
func NewEventLog(db *sql.DB, c clock.Clock) *EventLog {
	return &EventLog{db: db, clock: c, projectLocks: make(map[string]*sync.Mutex)}
}

func (l *EventLog) lockFor(project string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.projectLocks[project]
	if !ok {
		m = &sync.Mutex{}
		l.projectLocks[project] = m
	}
	return m
}

// CanonicalHash computes the content fingerprint over the canonical fields:
// project_id, session_id, event_type, normalized_content, context.
func CanonicalHash(projectID, sessionID string, eventType types.EventType, content string, ctx types.EventContext) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	ctxBytes, _ := json.Marshal(ctx)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", projectID, sessionID, eventType, normalized, string(ctxBytes))
	return hex.EncodeToString(h.Sum(nil))
}

// AppendResult reports whether Append found (and reused) an existing event.
type AppendResult struct {
	ID            int64
	Deduplicated  bool
}

// Append records a new event, computing and checking its hash. A duplicate
// hash within the project is not an error: the existing event's id is
// returned instead.
func (l *EventLog) Append(ctx context.Context, e *types.Event) (AppendResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "EventLog.Append")
	defer timer.Stop()

	if e.ProjectID == "" {
		return AppendResult{}, types.NewError(types.ErrInvalidArgument, false, "event.project_id is required")
	}
	if e.SessionID == "" {
		return AppendResult{}, types.NewError(types.ErrInvalidArgument, false, "event.session_id is required")
	}

	lock := l.lockFor(e.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock.Now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Hash == "" {
		e.Hash = CanonicalHash(e.ProjectID, e.SessionID, e.EventType, e.Content, e.Context)
	}
	if e.LifecycleStatus == "" {
		e.LifecycleStatus = types.LifecycleActive
	}
	if e.Outcome == "" {
		e.Outcome = types.OutcomeNone
	}

	var existingID int64
	err := l.db.QueryRowContext(ctx, `SELECT id FROM episodic_events WHERE project_id = ? AND hash = ?`, e.ProjectID, e.Hash).Scan(&existingID)
	if err == nil {
		logging.Get(logging.CategoryStore).Debug("EventLog.Append: dedup hit project=%s hash=%s id=%d", e.ProjectID, e.Hash, existingID)
		return AppendResult{ID: existingID, Deduplicated: true}, nil
	}
	if err != sql.ErrNoRows {
		return AppendResult{}, types.Wrap(types.ErrInternal, false, err, "query existing hash")
	}

	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return AppendResult{}, types.Wrap(types.ErrInvalidArgument, false, err, "marshal event context")
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO episodic_events
			(project_id, session_id, timestamp, event_type, content, outcome, context_json,
			 learned, importance_score, confidence, duration_ms, hash, lifecycle_status,
			 consolidation_score, last_activation, activation_count, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.SessionID, e.Timestamp, string(e.EventType), e.Content, string(e.Outcome), string(ctxJSON),
		nullableString(e.Learned), e.ImportanceScore, e.Confidence, e.DurationMs, e.Hash, string(e.LifecycleStatus),
		e.ConsolidationScore, nullableTime(e.LastActivation), e.ActivationCount, encodeEmbedding(e.Embedding), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race against a concurrent writer with the same hash.
			var id int64
			if qerr := l.db.QueryRowContext(ctx, `SELECT id FROM episodic_events WHERE project_id = ? AND hash = ?`, e.ProjectID, e.Hash).Scan(&id); qerr == nil {
				return AppendResult{ID: id, Deduplicated: true}, nil
			}
		}
		return AppendResult{}, types.Wrap(types.ErrInternal, false, err, "insert event")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AppendResult{}, types.Wrap(types.ErrInternal, false, err, "read inserted id")
	}
	e.ID = id
	e.CreatedAt = now
	return AppendResult{ID: id, Deduplicated: false}, nil
}

// EventFilters narrows GetRange queries.
type EventFilters struct {
	EventTypes []types.EventType
	Lifecycle  []types.LifecycleStatus
	SessionID  string
	Limit      int
}

// GetRange returns events for project within [from, to], newest first,
// honoring optional filters.
func (l *EventLog) GetRange(ctx context.Context, project string, from, to time.Time, f EventFilters) ([]types.Event, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT id, project_id, session_id, timestamp, event_type, content, outcome, context_json,
		learned, importance_score, confidence, duration_ms, hash, lifecycle_status, consolidation_score,
		last_activation, activation_count, embedding, created_at
		FROM episodic_events WHERE project_id = ? AND timestamp BETWEEN ? AND ?`)
	args := []any{project, from, to}

	if f.SessionID != "" {
		q.WriteString(" AND session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(f.EventTypes) > 0 {
		q.WriteString(" AND event_type IN (" + placeholders(len(f.EventTypes)) + ")")
		for _, t := range f.EventTypes {
			args = append(args, string(t))
		}
	}
	if len(f.Lifecycle) > 0 {
		q.WriteString(" AND lifecycle_status IN (" + placeholders(len(f.Lifecycle)) + ")")
		for _, s := range f.Lifecycle {
			args = append(args, string(s))
		}
	}
	q.WriteString(" ORDER BY timestamp DESC")
	if f.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}

	rows, err := l.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query event range")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetBySession returns all events for one session in append order.
func (l *EventLog) GetBySession(ctx context.Context, project, sessionID string) ([]types.Event, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, project_id, session_id, timestamp, event_type, content, outcome, context_json,
		learned, importance_score, confidence, duration_ms, hash, lifecycle_status, consolidation_score,
		last_activation, activation_count, embedding, created_at
		FROM episodic_events WHERE project_id = ? AND session_id = ? ORDER BY timestamp ASC`, project, sessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query events by session")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UpdateLifecycle flips an event's lifecycle_status/consolidation_score,
// the only mutation consolidation is allowed to make to a source event.
func (l *EventLog) UpdateLifecycle(ctx context.Context, id int64, status types.LifecycleStatus, score float64) error {
	_, err := l.db.ExecContext(ctx, `UPDATE episodic_events SET lifecycle_status = ?, consolidation_score = ? WHERE id = ?`, string(status), score, id)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "update event lifecycle")
	}
	return nil
}

// IncrementActivation bumps activation_count and last_activation, the
// mutation recall performs on every item it returns.
func (l *EventLog) IncrementActivation(ctx context.Context, id int64) error {
	_, err := l.db.ExecContext(ctx, `UPDATE episodic_events SET activation_count = activation_count + 1, last_activation = ? WHERE id = ?`, l.clock.Now(), id)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "increment activation")
	}
	return nil
}

// ArchiveEligible returns ids of consolidated events whose last_activation
// predates the retention window.
func (l *EventLog) ArchiveEligible(ctx context.Context, project string, retentionDays int) ([]int64, error) {
	cutoff := l.clock.Now().AddDate(0, 0, -retentionDays)
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM episodic_events
		WHERE project_id = ? AND lifecycle_status = ? AND last_activation IS NOT NULL AND last_activation < ?`,
		project, string(types.LifecycleConsolidated), cutoff)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "query archive-eligible events")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Archive transitions the given events to lifecycle_status=archived.
func (l *EventLog) Archive(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(types.LifecycleArchived))
	for _, id := range ids {
		args = append(args, id)
	}
	q := fmt.Sprintf(`UPDATE episodic_events SET lifecycle_status = ? WHERE id IN (%s)`, placeholders(len(ids)))
	_, err := l.db.ExecContext(ctx, q, args...)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "archive events")
	}
	return nil
}

// GetByID fetches a single event.
func (l *EventLog) GetByID(ctx context.Context, id int64) (*types.Event, error) {
	row := l.db.QueryRowContext(ctx, `SELECT id, project_id, session_id, timestamp, event_type, content, outcome, context_json,
		learned, importance_score, confidence, duration_ms, hash, lifecycle_status, consolidation_score,
		last_activation, activation_count, embedding, created_at FROM episodic_events WHERE id = ?`, id)
	e, err := scanEventRow(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.ErrNotFound, false, "event %d not found", id)
	}
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "scan event")
	}
	return e, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row rowScanner) (*types.Event, error) {
	var e types.Event
	var ctxJSON string
	var learned sql.NullString
	var lastActivation sql.NullTime
	var embedding []byte
	var eventType, outcome, lifecycle string

	if err := row.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.Timestamp, &eventType, &e.Content, &outcome, &ctxJSON,
		&learned, &e.ImportanceScore, &e.Confidence, &e.DurationMs, &e.Hash, &lifecycle, &e.ConsolidationScore,
		&lastActivation, &e.ActivationCount, &embedding, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.EventType = types.EventType(eventType)
	e.Outcome = types.Outcome(outcome)
	e.LifecycleStatus = types.LifecycleStatus(lifecycle)
	if learned.Valid {
		e.Learned = learned.String
	}
	if lastActivation.Valid {
		e.LastActivation = lastActivation.Time
	}
	_ = json.Unmarshal([]byte(ctxJSON), &e.Context)
	vec, err := decodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	e.Embedding = vec
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]types.Event, error) {
	var out []types.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := strings.Builder{}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	return b.String()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
