package storage

import (
	"context"
	"database/sql"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// ConsolidationRun is a persisted run of the consolidation pipeline.
type ConsolidationRun struct {
	ID                 int64
	ProjectID          string
	Strategy           string
	EventsConsolidated int
	PatternsExtracted  int
	ProceduresCreated  int
	CompressionRatio   float64
	QualityScore       float64
	DurationMs         int64
	StartedAt          time.Time
	FinishedAt         *time.Time
}

// ExtractedPattern is one candidate pattern produced by clustering, carried
// through validation and (maybe) promotion.
type ExtractedPattern struct {
	ID                  int64
	RunID               int64
	ProjectID           string
	ClusterKey          string
	Uncertainty         float64
	Validated           bool
	Deferred            bool
	PromotedMemoryID    int64
	PromotedProcedureID int64
	CreatedAt           time.Time
}

// MemoryConflict flags two near-duplicate Memories with contradictory
// tags or diverging quality.
type MemoryConflict struct {
	ID         int64
	ProjectID  string
	MemoryIDA  int64
	MemoryIDB  int64
	Similarity float64
	Reason     string
	Resolved   bool
	CreatedAt  time.Time
}

// DreamVariant is a speculative memory variant pending evaluation.
type DreamVariant struct {
	ID             int64
	ProjectID      string
	SourceMemoryID int64
	Kind           string
	Content        string
	Status         string
	Tier           int
	CreatedAt      time.Time
}

// ConsolidationStore persists consolidation runs, extracted patterns,
// memory conflicts, and dream variants.
type ConsolidationStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewConsolidationStore(db *sql.DB, c clock.Clock) *ConsolidationStore {
	return &ConsolidationStore{db: db, clock: c}
}

// StartRun records the start of a consolidation run and returns its id.
func (s *ConsolidationStore) StartRun(ctx context.Context, projectID, strategy string) (int64, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO consolidation_runs
		(project_id, strategy, started_at) VALUES (?, ?, ?)`, projectID, strategy, now)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "start consolidation run")
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// FinishRun writes the final report fields for a run.
func (s *ConsolidationStore) FinishRun(ctx context.Context, runID int64, r ConsolidationRun) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE consolidation_runs SET
		events_consolidated = ?, patterns_extracted = ?, procedures_created = ?,
		compression_ratio = ?, quality_score = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		r.EventsConsolidated, r.PatternsExtracted, r.ProceduresCreated,
		r.CompressionRatio, r.QualityScore, r.DurationMs, now, runID)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "finish consolidation run")
	}
	return nil
}

// GetRun fetches one run by id.
func (s *ConsolidationStore) GetRun(ctx context.Context, id int64) (*ConsolidationRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, project_id, strategy, events_consolidated,
		patterns_extracted, procedures_created, compression_ratio, quality_score,
		duration_ms, started_at, finished_at FROM consolidation_runs WHERE id = ?`, id)
	var r ConsolidationRun
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Strategy, &r.EventsConsolidated, &r.PatternsExtracted,
		&r.ProceduresCreated, &r.CompressionRatio, &r.QualityScore, &r.DurationMs, &r.StartedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewError(types.ErrNotFound, false, "consolidation run %d not found", id)
		}
		return nil, types.Wrap(types.ErrInternal, false, err, "scan consolidation run")
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// CreatePattern persists a newly-extracted candidate pattern.
func (s *ConsolidationStore) CreatePattern(ctx context.Context, p *ExtractedPattern) (int64, error) {
	now := s.clock.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO extracted_patterns
		(run_id, project_id, cluster_key, uncertainty, validated, deferred,
		 promoted_memory_id, promoted_procedure_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.ProjectID, p.ClusterKey, p.Uncertainty, boolToInt(p.Validated), boolToInt(p.Deferred),
		nullableInt64(p.PromotedMemoryID), nullableInt64(p.PromotedProcedureID), p.CreatedAt)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert extracted pattern")
	}
	id, _ := res.LastInsertId()
	p.ID = id
	return id, nil
}

// MarkPromoted updates a pattern with its promotion target.
func (s *ConsolidationStore) MarkPromoted(ctx context.Context, id int64, memoryID, procedureID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE extracted_patterns SET promoted_memory_id = ?,
		promoted_procedure_id = ?, validated = 1 WHERE id = ?`,
		nullableInt64(memoryID), nullableInt64(procedureID), id)
	return err
}

// MarkDeferred flags a pattern as deferred (validation unavailable).
func (s *ConsolidationStore) MarkDeferred(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE extracted_patterns SET deferred = 1 WHERE id = ?`, id)
	return err
}

// CreateConflict records a detected memory conflict.
func (s *ConsolidationStore) CreateConflict(ctx context.Context, c *MemoryConflict) (int64, error) {
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO memory_conflicts
		(project_id, memory_id_a, memory_id_b, similarity, reason, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.MemoryIDA, c.MemoryIDB, c.Similarity, c.Reason, boolToInt(c.Resolved), c.CreatedAt)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert memory conflict")
	}
	id, _ := res.LastInsertId()
	c.ID = id
	return id, nil
}

// UnresolvedConflicts lists conflicts not yet resolved for a project.
func (s *ConsolidationStore) UnresolvedConflicts(ctx context.Context, project string) ([]MemoryConflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, memory_id_a, memory_id_b, similarity,
		reason, resolved, created_at FROM memory_conflicts WHERE project_id = ? AND resolved = 0`, project)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "list memory conflicts")
	}
	defer rows.Close()
	var out []MemoryConflict
	for rows.Next() {
		var c MemoryConflict
		var resolved int
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.MemoryIDA, &c.MemoryIDB, &c.Similarity, &c.Reason, &resolved, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Resolved = resolved != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateDream persists a speculative dream variant pending evaluation.
func (s *ConsolidationStore) CreateDream(ctx context.Context, d *DreamVariant) (int64, error) {
	now := s.clock.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.Status == "" {
		d.Status = "pending_evaluation"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO dream_variants
		(project_id, source_memory_id, kind, content, status, tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ProjectID, nullableInt64(d.SourceMemoryID), d.Kind, d.Content, d.Status, d.Tier, d.CreatedAt)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert dream variant")
	}
	id, _ := res.LastInsertId()
	d.ID = id
	return id, nil
}

// EvaluateDream sets a dream's status/tier once the LLM evaluator has run.
func (s *ConsolidationStore) EvaluateDream(ctx context.Context, id int64, status string, tier int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dream_variants SET status = ?, tier = ? WHERE id = ?`, status, tier, id)
	return err
}

// EvaluatedTierOne lists dreams cleared for the recall surface
// (status=evaluated, tier=1).
func (s *ConsolidationStore) EvaluatedTierOne(ctx context.Context, project string) ([]DreamVariant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, source_memory_id, kind, content, status, tier, created_at
		FROM dream_variants WHERE project_id = ? AND status = 'evaluated' AND tier = 1`, project)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "list evaluated dreams")
	}
	defer rows.Close()
	var out []DreamVariant
	for rows.Next() {
		var d DreamVariant
		var srcMemID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.ProjectID, &srcMemID, &d.Kind, &d.Content, &d.Status, &d.Tier, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.SourceMemoryID = srcMemID.Int64
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
