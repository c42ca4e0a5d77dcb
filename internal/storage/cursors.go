package storage

import (
	"context"
	"database/sql"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// CursorStore tracks ingestion progress per source,
// so an ingest feed can resume after a restart without reprocessing.
type CursorStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewCursorStore(db *sql.DB, c clock.Clock) *CursorStore {
	return &CursorStore{db: db, clock: c}
}

// Get returns the cursor for a source, or (nil, nil) if none has been set.
func (s *CursorStore) Get(ctx context.Context, sourceID string) (*types.Cursor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT source_id, cursor_data, updated_at FROM cursors WHERE source_id = ?`, sourceID)
	var c types.Cursor
	if err := row.Scan(&c.SourceID, &c.CursorData, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, types.Wrap(types.ErrInternal, false, err, "scan cursor")
	}
	return &c, nil
}

// Set upserts the cursor position for a source.
func (s *CursorStore) Set(ctx context.Context, sourceID, cursorData string) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO cursors (source_id, cursor_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET cursor_data = excluded.cursor_data, updated_at = excluded.updated_at`,
		sourceID, cursorData, now)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "upsert cursor")
	}
	return nil
}

// Delete removes a source's cursor, forcing a full re-ingest next time.
func (s *CursorStore) Delete(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE source_id = ?`, sourceID)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "delete cursor")
	}
	return nil
}

// All lists every known cursor, for diagnostics.
func (s *CursorStore) All(ctx context.Context) ([]types.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, cursor_data, updated_at FROM cursors ORDER BY source_id`)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, false, err, "list cursors")
	}
	defer rows.Close()
	var out []types.Cursor
	for rows.Next() {
		var c types.Cursor
		if err := rows.Scan(&c.SourceID, &c.CursorData, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
