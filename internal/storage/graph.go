package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/types"
)

// GraphStore holds Entities, Relations, and Observations, storing adjacency
// as rows queryable from either direction.
// Traversal operations (neighbours/shortest_path/community_detect) live in
// the internal/graph package, which loads this store's edges into a
// Datalog kernel.
type GraphStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewGraphStore(db *sql.DB, c clock.Clock) *GraphStore {
	return &GraphStore{db: db, clock: c}
}

// UpsertEntity creates or returns the existing entity for
// (name, entity_type, project_id), which declares unique.
func (g *GraphStore) UpsertEntity(ctx context.Context, e *types.Entity) (int64, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "UpsertEntity")
	defer timer.Stop()

	metaJSON, _ := json.Marshal(e.Metadata)
	now := g.clock.Now()

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO entities (project_id, name, entity_type, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name, entity_type) DO UPDATE SET metadata_json = excluded.metadata_json`,
		e.ProjectID, e.Name, e.EntityType, string(metaJSON), now)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "upsert entity")
	}

	var id int64
	if err := g.db.QueryRowContext(ctx, `SELECT id FROM entities WHERE project_id = ? AND name = ? AND entity_type = ?`,
		e.ProjectID, e.Name, e.EntityType).Scan(&id); err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "read upserted entity id")
	}
	e.ID = id
	return id, nil
}

// GetEntity fetches an entity by id.
func (g *GraphStore) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row := g.db.QueryRowContext(ctx, `SELECT id, project_id, name, entity_type, metadata_json, created_at FROM entities WHERE id = ?`, id)
	var e types.Entity
	var metaJSON string
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.EntityType, &metaJSON, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewError(types.ErrNotFound, false, "entity %d not found", id)
		}
		return nil, types.Wrap(types.ErrInternal, false, err, "scan entity")
	}
	_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	return &e, nil
}

// UpsertRelation inserts a new edge, or - on re-insertion of the same
// (from, to, relation_type) triple - strengthens it by a decaying moving
// average: strength_new = strength_old*(1-decay) + observed*decay.
func (g *GraphStore) UpsertRelation(ctx context.Context, r *types.Relation) (int64, error) {
	const decay = 0.3

	var existingID int64
	var existingStrength float64
	err := g.db.QueryRowContext(ctx, `SELECT id, strength FROM entity_relations
		WHERE project_id = ? AND from_entity = ? AND to_entity = ? AND relation_type = ?`,
		r.ProjectID, r.FromEntity, r.ToEntity, r.RelationType).Scan(&existingID, &existingStrength)

	now := g.clock.Now()
	if r.ValidFrom.IsZero() {
		r.ValidFrom = now
	}

	if err == sql.ErrNoRows {
		res, ierr := g.db.ExecContext(ctx, `
			INSERT INTO entity_relations (project_id, from_entity, to_entity, relation_type, strength, confidence, valid_from, valid_to, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ProjectID, r.FromEntity, r.ToEntity, r.RelationType, r.Strength, r.Confidence, r.ValidFrom, nullableTime(zeroIfNilTime(r.ValidTo)), now)
		if ierr != nil {
			return 0, types.Wrap(types.ErrInternal, false, ierr, "insert relation")
		}
		id, _ := res.LastInsertId()
		r.ID = id
		return id, nil
	}
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "query existing relation")
	}

	newStrength := existingStrength*(1-decay) + r.Strength*decay
	if _, err := g.db.ExecContext(ctx, `UPDATE entity_relations SET strength = ?, confidence = ? WHERE id = ?`,
		newStrength, r.Confidence, existingID); err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "strengthen relation")
	}
	r.ID = existingID
	r.Strength = newStrength
	return existingID, nil
}

func zeroIfNilTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// AddObservation attaches a timestamped note to an entity.
func (g *GraphStore) AddObservation(ctx context.Context, o *types.Observation) (int64, error) {
	if o.Timestamp.IsZero() {
		o.Timestamp = g.clock.Now()
	}
	res, err := g.db.ExecContext(ctx, `INSERT INTO entity_observations (entity_id, content, timestamp, confidence, superseded_by)
		VALUES (?, ?, ?, ?, ?)`, o.EntityID, o.Content, o.Timestamp, o.Confidence, o.SupersededBy)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "insert observation")
	}
	id, _ := res.LastInsertId()
	o.ID = id
	return id, nil
}

// Edge is a directed adjacency row used by internal/graph for traversal.
type Edge struct {
	From, To     int64
	RelationType string
	Strength     float64
	Confidence   float64
}

// AllEdges returns every relation edge in a project, for loading into the
// Datalog kernel (internal/graph).
func (g *GraphStore) AllEdges(ctx context.Context, project string) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT from_entity, to_entity, relation_type, strength, confidence
		FROM entity_relations WHERE project_id = ?`, project)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "load edges")
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.From, &e.To, &e.RelationType, &e.Strength, &e.Confidence); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllEntities returns every entity in a project.
func (g *GraphStore) AllEntities(ctx context.Context, project string) ([]types.Entity, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, project_id, name, entity_type, metadata_json, created_at FROM entities WHERE project_id = ?`, project)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "load entities")
	}
	defer rows.Close()
	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.EntityType, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetEntityCommunity tags an entity's metadata with its detected community
// id, persisting community_detect()'s partition.
func (g *GraphStore) SetEntityCommunity(ctx context.Context, entityID int64, community int) error {
	ent, err := g.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if ent.Metadata == nil {
		ent.Metadata = map[string]any{}
	}
	ent.Metadata["community"] = community
	metaJSON, _ := json.Marshal(ent.Metadata)
	_, err = g.db.ExecContext(ctx, `UPDATE entities SET metadata_json = ? WHERE id = ?`, string(metaJSON), entityID)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "set entity community")
	}
	return nil
}
