// Package hooks implements the lifecycle-event dispatcher:
// a fixed vocabulary of hooks, each guarded by idempotency, rate-limiting,
// and cascade-cycle checks, persisted to the episodic log, and feeding a
// per-session context that the recall router consumes automatically.
package hooks

import "time"

// ID enumerates the fixed hook vocabulary.
type ID string

const (
	SessionStart       ID = "session_start"
	SessionEnd         ID = "session_end"
	ConversationTurn   ID = "conversation_turn"
	UserPromptSubmit   ID = "user_prompt_submit"
	AssistantResponse  ID = "assistant_response"
	TaskStarted        ID = "task_started"
	TaskCompleted      ID = "task_completed"
	ErrorOccurred      ID = "error_occurred"
	PreToolUse         ID = "pre_tool_use"
	PostToolUse        ID = "post_tool_use"
	ConsolidationStart ID = "consolidation_start"
	ConsolidationEnd   ID = "consolidation_complete"
	PreClear           ID = "pre_clear"
)

// Config parametrises the dispatcher's safety guards, mirrored from config.HooksConfig to avoid an import cycle.
type Config struct {
	IdempotencyWindow time.Duration
	RateLimitPerMin   int
	MaxDepth          int
	MaxBreadth        int
	RecentEventsRing  int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		IdempotencyWindow: 30 * time.Second,
		RateLimitPerMin:   30,
		MaxDepth:          5,
		MaxBreadth:        10,
		RecentEventsRing:  20,
	}
}
