package storage

import (
	"context"
	"database/sql"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

// HookLedger persists one row per successful hook fire, keyed by
// fingerprint, backing the idempotency guard.
type HookLedger struct {
	db    *sql.DB
	clock clock.Clock
}

func NewHookLedger(db *sql.DB, c clock.Clock) *HookLedger {
	return &HookLedger{db: db, clock: c}
}

// Record stores a successful fire.
func (l *HookLedger) Record(ctx context.Context, hookID, fingerprint string, eventID int64) error {
	now := l.clock.Now()
	_, err := l.db.ExecContext(ctx, `INSERT INTO hooks_ledger (hook_id, fingerprint, event_id, fired_at)
		VALUES (?, ?, ?, ?)`, hookID, fingerprint, eventID, now)
	if err != nil {
		return types.Wrap(types.ErrInternal, false, err, "record hook fire")
	}
	return nil
}

// FindRecent returns the event id of the most recent fire with fingerprint
// occurring at or after `since`, or (0, false) if none.
func (l *HookLedger) FindRecent(ctx context.Context, fingerprint string, since time.Time) (int64, bool, error) {
	var eventID int64
	err := l.db.QueryRowContext(ctx, `SELECT event_id FROM hooks_ledger
		WHERE fingerprint = ? AND fired_at >= ? ORDER BY fired_at DESC LIMIT 1`, fingerprint, since).Scan(&eventID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, types.Wrap(types.ErrInternal, false, err, "lookup hook fingerprint")
	}
	return eventID, true, nil
}

// CountSince counts fires of hookID at or after `since`, for rate limiting.
func (l *HookLedger) CountSince(ctx context.Context, hookID string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hooks_ledger WHERE hook_id = ? AND fired_at >= ?`, hookID, since).Scan(&n)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, false, err, "count hook fires")
	}
	return n, nil
}
