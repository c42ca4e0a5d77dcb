// Package types provides shared data model definitions used across agentmem
// packages. It exists to break import cycles between storage, consolidation,
// recall, and hooks: every package that needs to talk about an Event or a
// Memory imports this package instead of each other.
package types

import "time"

// EventType enumerates the kinds of episodic events the engine records.
type EventType string

const (
	EventAction       EventType = "action"
	EventObservation  EventType = "observation"
	EventDecision     EventType = "decision"
	EventError        EventType = "error"
	EventSuccess      EventType = "success"
	EventConversation EventType = "conversation"
)

// Outcome enumerates the result of an event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeOngoing Outcome = "ongoing"
	OutcomeNone    Outcome = "none"
)

// LifecycleStatus tracks an event's position in the consolidation lifecycle.
type LifecycleStatus string

const (
	LifecycleActive       LifecycleStatus = "active"
	LifecycleConsolidated LifecycleStatus = "consolidated"
	LifecycleArchived     LifecycleStatus = "archived"
)

// EventContext captures the situational metadata attached to an event.
type EventContext struct {
	Task  string   `json:"task,omitempty"`
	Phase string   `json:"phase,omitempty"`
	CWD   string   `json:"cwd,omitempty"`
	Files []string `json:"files,omitempty"`
}

// Event is a timestamped record of something that happened in a session.
type Event struct {
	ID                 int64           `json:"id"`
	ProjectID          string          `json:"project_id"`
	SessionID          string          `json:"session_id"`
	Timestamp          time.Time       `json:"timestamp"`
	EventType          EventType       `json:"event_type"`
	Content             string          `json:"content"`
	Outcome            Outcome         `json:"outcome"`
	Context            EventContext    `json:"context"`
	Learned            string          `json:"learned,omitempty"`
	ImportanceScore    float64         `json:"importance_score"`
	Confidence         float64         `json:"confidence"`
	DurationMs         int64           `json:"duration_ms"`
	Hash               string          `json:"hash"`
	LifecycleStatus    LifecycleStatus `json:"lifecycle_status"`
	ConsolidationScore float64         `json:"consolidation_score"`
	LastActivation     time.Time       `json:"last_activation"`
	ActivationCount    int64           `json:"activation_count"`
	Embedding          []float32       `json:"embedding,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// MemoryType enumerates the kind of distilled knowledge a Memory holds.
type MemoryType string

const (
	MemoryFact      MemoryType = "fact"
	MemoryPattern   MemoryType = "pattern"
	MemoryDecision  MemoryType = "decision"
	MemoryContext   MemoryType = "context"
	MemoryPrinciple MemoryType = "principle"
)

// Memory is a distilled, reusable piece of semantic knowledge.
type Memory struct {
	ID              int64      `json:"id"`
	ProjectID       string     `json:"project_id"`
	Content         string     `json:"content"`
	MemoryType      MemoryType `json:"memory_type"`
	Tags            []string   `json:"tags,omitempty"`
	Domains         []string   `json:"domains,omitempty"`
	Importance      float64    `json:"importance"`
	Quality         float64    `json:"quality"`
	UsefulnessScore float64    `json:"usefulness_score"`
	LastAccessed    time.Time  `json:"last_accessed"`
	AccessCount     int64      `json:"access_count"`
	SourceEventIDs  []int64    `json:"source_event_ids,omitempty"`
	Embedding       []float32  `json:"embedding,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ProcedureParam describes one parameter of a Procedure template.
type ProcedureParam struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Procedure is a reusable templated workflow with tracked success rate.
type Procedure struct {
	ID               int64            `json:"id"`
	ProjectID        string           `json:"project_id"`
	Name             string           `json:"name"`
	Category         string           `json:"category"`
	Template         string           `json:"template"`
	Params           []ProcedureParam `json:"params"`
	SuccessRate      float64          `json:"success_rate"`
	UsageCount       int64            `json:"usage_count"`
	AvgDurationMs    int64            `json:"avg_duration_ms"`
	TriggerPattern   string           `json:"trigger_pattern"`
	Examples         []string         `json:"examples,omitempty"`
	SourceEventIDs   []int64          `json:"source_event_ids,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ProcedureExecution records one run of a Procedure.
type ProcedureExecution struct {
	ID          int64     `json:"id"`
	ProcedureID int64     `json:"procedure_id"`
	ProjectID   string    `json:"project_id"`
	Outcome     Outcome   `json:"outcome"`
	DurationMs  int64     `json:"duration_ms"`
	Learned     string    `json:"learned,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	At          time.Time `json:"at"`
}

// TaskPriority enumerates task priority levels.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskBlocked   TaskStatus = "blocked"
)

// TaskPhase enumerates the forward-only (except replan) phase machine.
type TaskPhase string

const (
	PhasePlanning   TaskPhase = "planning"
	PhasePlanReady  TaskPhase = "plan_ready"
	PhaseExecuting  TaskPhase = "executing"
	PhaseVerifying  TaskPhase = "verifying"
	PhaseCompleted  TaskPhase = "completed"
)

// phaseOrder gives each phase a forward-progress rank for transition checks.
var phaseOrder = map[TaskPhase]int{
	PhasePlanning:  0,
	PhasePlanReady: 1,
	PhaseExecuting: 2,
	PhaseVerifying: 3,
	PhaseCompleted: 4,
}

// CanAdvance reports whether moving from `from` to `to` is forward progress.
// Replanning (explicitly going backward) is allowed by callers that pass
// allowReplan=true; this helper only encodes the natural-order check.
func CanAdvance(from, to TaskPhase) bool {
	return phaseOrder[to] >= phaseOrder[from]
}

// Task is a prospective unit of work.
type Task struct {
	ID          int64        `json:"id"`
	ProjectID   string       `json:"project_id"`
	Content     string       `json:"content"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	Phase       TaskPhase    `json:"phase"`
	Assignee    string       `json:"assignee,omitempty"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	Triggers    []string     `json:"triggers,omitempty"`
	GoalID      int64        `json:"goal_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Goal groups tasks toward a named outcome.
type Goal struct {
	ID           int64     `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Progress     float64   `json:"progress"` // 0-100
	TaskIDs      []int64   `json:"task_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entity is a named node in the knowledge graph.
type Entity struct {
	ID         int64          `json:"id"`
	ProjectID  string         `json:"project_id"`
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Relation is a directed, weighted edge between two entities.
type Relation struct {
	ID           int64      `json:"id"`
	ProjectID    string     `json:"project_id"`
	FromEntity   int64      `json:"from_entity"`
	ToEntity     int64      `json:"to_entity"`
	RelationType string     `json:"relation_type"`
	Strength     float64    `json:"strength"`
	Confidence   float64    `json:"confidence"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Observation is a timestamped note attached to an Entity.
type Observation struct {
	ID            int64      `json:"id"`
	EntityID      int64      `json:"entity_id"`
	Content       string     `json:"content"`
	Timestamp     time.Time  `json:"timestamp"`
	Confidence    float64    `json:"confidence"`
	SupersededBy  *int64     `json:"superseded_by,omitempty"`
}

// ItemRef is a weak cross-layer reference: (layer, id).
type ItemRef struct {
	Layer string `json:"layer"`
	ID    int64  `json:"id"`
}

// WorkingMemorySlot is one entry in the bounded working-memory buffer.
type WorkingMemorySlot struct {
	ItemRef        ItemRef   `json:"item_ref"`
	Salience       float64   `json:"salience"`
	InsertedAt     time.Time `json:"inserted_at"`
	LastReinforced time.Time `json:"last_reinforced"`
}

// SessionContext is the active task/phase/recent-events context bound to a
// session id.
type SessionContext struct {
	SessionID            string      `json:"session_id"`
	ProjectID            string      `json:"project_id"`
	Task                 string      `json:"task"`
	Phase                string      `json:"phase"`
	StartedAt            time.Time   `json:"started_at"`
	EndedAt              *time.Time  `json:"ended_at,omitempty"`
	RecentEvents         []Event     `json:"recent_events"`
	ConsolidationHistory []int64     `json:"consolidation_history,omitempty"` // consolidation_runs ids
}

// HookEvent captures cascade-tracking metadata for one hook firing.
type HookEvent struct {
	HookID          string   `json:"hook_id"`
	Fingerprint     string   `json:"fingerprint"`
	Depth           int      `json:"depth"`
	TriggeredHooks  []string `json:"triggered_hooks,omitempty"`
}

// Cursor tracks incremental ingestion progress for an external source.
type Cursor struct {
	SourceID   string    `json:"source_id"`
	CursorData string    `json:"cursor_data"` // opaque JSON
	UpdatedAt  time.Time `json:"updated_at"`
}
