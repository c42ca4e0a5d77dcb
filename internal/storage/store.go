package storage

import (
	"database/sql"

	"agentmem/internal/clock"
)

// Store composes every table-backed store over a single *sql.DB handle.
type Store struct {
	DB *sql.DB

	Events        *EventLog
	Semantic      *SemanticStore
	Graph         *GraphStore
	Tasks         *TaskStore
	Procedures    *ProcedureStore
	Cursors       *CursorStore
	Consolidation *ConsolidationStore
	Sessions      *SessionStore
	Hooks         *HookLedger
}

// Open opens the database at path, applies the schema, and wires every
// sub-store against it.
func Open(path string, c clock.Clock) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return New(db, c), nil
}

// New wires every sub-store against an already-open database handle.
func New(db *sql.DB, c clock.Clock) *Store {
	return &Store{
		DB:            db,
		Events:        NewEventLog(db, c),
		Semantic:      NewSemanticStore(db, c),
		Graph:         NewGraphStore(db, c),
		Tasks:         NewTaskStore(db, c),
		Procedures:    NewProcedureStore(db, c),
		Cursors:       NewCursorStore(db, c),
		Consolidation: NewConsolidationStore(db, c),
		Sessions:      NewSessionStore(db, c),
		Hooks:         NewHookLedger(db, c),
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
