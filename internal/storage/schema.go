// Package storage implements the storage substrate: the event log, the
// hybrid semantic memory store, the knowledge graph store, and the task
// store, all persisted in a single embedded SQLite database. The default
// build uses the pure-Go modernc.org/sqlite driver with a registered
// vec_distance_cos compat function (vec_compat.go); the sqlite_vec build
// tag swaps in the cgo driver with the native sqlite-vec extension
// (init_vec.go).
package storage

import (
	"database/sql"
	"fmt"

	"agentmem/internal/logging"
)

// CurrentSchemaVersion is bumped whenever schema.go's DDL changes shape.
const CurrentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS episodic_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	content TEXT NOT NULL,
	outcome TEXT NOT NULL,
	context_json TEXT NOT NULL DEFAULT '{}',
	learned TEXT,
	importance_score REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL,
	lifecycle_status TEXT NOT NULL DEFAULT 'active',
	consolidation_score REAL NOT NULL DEFAULT 0,
	last_activation DATETIME,
	activation_count INTEGER NOT NULL DEFAULT 0,
	embedding BLOB,
	created_at DATETIME NOT NULL,
	UNIQUE(project_id, hash)
);
CREATE INDEX IF NOT EXISTS idx_events_proj_ts ON episodic_events(project_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_proj_hash ON episodic_events(project_id, hash);
CREATE INDEX IF NOT EXISTS idx_events_lifecycle ON episodic_events(lifecycle_status);
CREATE INDEX IF NOT EXISTS idx_events_session ON episodic_events(project_id, session_id);

CREATE TABLE IF NOT EXISTS semantic_memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '[]',
	domains_json TEXT NOT NULL DEFAULT '[]',
	importance REAL NOT NULL DEFAULT 0,
	quality REAL NOT NULL DEFAULT 0,
	usefulness_score REAL NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed DATETIME,
	source_event_ids_json TEXT NOT NULL DEFAULT '[]',
	embedding BLOB,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_proj_ts ON semantic_memories(project_id, created_at);

CREATE TABLE IF NOT EXISTS procedures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	template TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '[]',
	success_rate REAL NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	avg_duration_ms INTEGER NOT NULL DEFAULT 0,
	trigger_pattern TEXT NOT NULL DEFAULT '',
	examples_json TEXT NOT NULL DEFAULT '[]',
	source_event_ids_json TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS procedure_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	procedure_id INTEGER NOT NULL,
	project_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	learned TEXT,
	variables_json TEXT NOT NULL DEFAULT '{}',
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proc_exec_proc ON procedure_executions(procedure_id);

CREATE TABLE IF NOT EXISTS prospective_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	content TEXT NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	phase TEXT NOT NULL,
	assignee TEXT,
	due_at DATETIME,
	triggers_json TEXT NOT NULL DEFAULT '[]',
	goal_id INTEGER,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_proj_status ON prospective_tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_proj_phase ON prospective_tasks(project_id, phase);

CREATE TABLE IF NOT EXISTS prospective_goals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	progress REAL NOT NULL DEFAULT 0,
	task_ids_json TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	UNIQUE(project_id, name, entity_type)
);

CREATE TABLE IF NOT EXISTS entity_relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	from_entity INTEGER NOT NULL,
	to_entity INTEGER NOT NULL,
	relation_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	valid_from DATETIME NOT NULL,
	valid_to DATETIME,
	created_at DATETIME NOT NULL,
	UNIQUE(project_id, from_entity, to_entity, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON entity_relations(project_id, from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to ON entity_relations(project_id, to_entity);

CREATE TABLE IF NOT EXISTS entity_observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	superseded_by INTEGER
);
CREATE INDEX IF NOT EXISTS idx_observations_entity ON entity_observations(entity_id);

CREATE TABLE IF NOT EXISTS consolidation_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	events_consolidated INTEGER NOT NULL DEFAULT 0,
	patterns_extracted INTEGER NOT NULL DEFAULT 0,
	procedures_created INTEGER NOT NULL DEFAULT 0,
	compression_ratio REAL NOT NULL DEFAULT 0,
	quality_score REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS extracted_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	project_id TEXT NOT NULL,
	cluster_key TEXT NOT NULL,
	uncertainty REAL NOT NULL DEFAULT 0,
	validated INTEGER NOT NULL DEFAULT 0,
	deferred INTEGER NOT NULL DEFAULT 0,
	promoted_memory_id INTEGER,
	promoted_procedure_id INTEGER,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	memory_id_a INTEGER NOT NULL,
	memory_id_b INTEGER NOT NULL,
	similarity REAL NOT NULL,
	reason TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dream_variants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	source_memory_id INTEGER,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending_evaluation',
	tier INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS session_contexts (
	session_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	task TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	consolidation_history_json TEXT NOT NULL DEFAULT '[]'
);

-- session_context_events is the durable backing of a session's bounded
-- recent-events ring. Only the newest
-- hooks.Dispatcher-configured ring size rows per session are kept; older
-- rows are trimmed on insert.
CREATE TABLE IF NOT EXISTS session_context_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_id INTEGER NOT NULL,
	added_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_ring_session ON session_context_events(session_id, added_at);

CREATE TABLE IF NOT EXISTS hooks_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hook_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	event_id INTEGER NOT NULL,
	fired_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hooks_fingerprint ON hooks_ledger(fingerprint);

CREATE TABLE IF NOT EXISTS cursors (
	source_id TEXT PRIMARY KEY,
	cursor_data TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// OpenDB opens (creating if needed) the embedded SQLite database at path and
// applies the schema DDL. It is idempotent: safe to call on every process
// start.
func OpenDB(path string) (*sql.DB, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenDB")
	defer timer.Stop()

	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer embedded file; serialize via this + per-project mutex

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logging.Get(logging.CategoryStore).Warn("storage: enable WAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		logging.Get(logging.CategoryStore).Warn("storage: enable foreign_keys failed: %v", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// migrate applies idempotent schema-version bookkeeping. Column-level
// migrations are appended here as CurrentSchemaVersion grows.
func migrate(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return fmt.Errorf("storage: read schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_meta(version) VALUES (?)", CurrentSchemaVersion); err != nil {
			return fmt.Errorf("storage: seed schema_meta: %w", err)
		}
		return nil
	}
	var version int
	if err := db.QueryRow("SELECT version FROM schema_meta LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("storage: read schema version: %w", err)
	}
	if version < CurrentSchemaVersion {
		if _, err := db.Exec("UPDATE schema_meta SET version = ?", CurrentSchemaVersion); err != nil {
			return fmt.Errorf("storage: bump schema version: %w", err)
		}
	}
	return nil
}
