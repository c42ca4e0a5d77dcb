package hooks

import (
	"context"
	"strings"
	"sync"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// phaseKeywords maps substrings found in a prompt to the phase they imply,
// used by the reclassification trigger on conversation_turn/
// user_prompt_submit.
var phaseKeywords = map[string]string{
	"let's plan":     "planning",
	"write a plan":   "planning",
	"plan is ready":  "plan_ready",
	"start implementing": "executing",
	"let's implement": "executing",
	"run the tests":  "verifying",
	"let's verify":    "verifying",
	"looks good, ship it": "completed",
	"that's done":    "completed",
}

// recoveryMarkers are natural-language cues that the user wants a recap of
// prior work.
var recoveryMarkers = []string{
	"where were we",
	"what was i doing",
	"what were we doing",
	"catch me up",
	"remind me what",
}

// RecoveryPayload is attached to a hook result when the prompt matches a
// recovery pattern.
type RecoveryPayload struct {
	SessionID    string
	Task         string
	Phase        string
	RecentEvents []types.Event
}

// SessionManager owns session_context lifecycle: creation on session_start,
// the bounded recent-events ring, phase reclassification, and auto-recovery
// synthesis. It keeps an in-memory cache over storage.SessionStore so hot
// paths (ring append, phase read) avoid a round trip on every hook fire.
type SessionManager struct {
	store *storage.Store
	clock clock.Clock
	cfg   Config

	mu    sync.Mutex
	cache map[string]*types.SessionContext
}

func NewSessionManager(store *storage.Store, c clock.Clock, cfg Config) *SessionManager {
	return &SessionManager{store: store, clock: c, cfg: cfg, cache: make(map[string]*types.SessionContext)}
}

// Start creates (or resumes) a session context.
func (m *SessionManager) Start(ctx context.Context, sessionID, projectID, task, phase string) error {
	sc := &types.SessionContext{SessionID: sessionID, ProjectID: projectID, Task: task, Phase: phase, StartedAt: m.clock.Now()}
	if err := m.store.Sessions.Start(ctx, sc); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[sessionID] = sc
	m.mu.Unlock()
	return nil
}

// End marks a session context ended.
func (m *SessionManager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
	return m.store.Sessions.End(ctx, sessionID)
}

// Get returns the current session context, loading from storage on a cache
// miss. Callers needing recent_events should also call RecentEvents.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*types.SessionContext, error) {
	m.mu.Lock()
	sc, ok := m.cache[sessionID]
	m.mu.Unlock()
	if ok {
		return sc, nil
	}
	sc, err := m.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[sessionID] = sc
	m.mu.Unlock()
	return sc, nil
}

// RecentEvents hydrates the session's bounded ring from storage.
func (m *SessionManager) RecentEvents(ctx context.Context, sessionID string) ([]types.Event, error) {
	ids, err := m.store.Sessions.RingEventIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events := make([]types.Event, 0, len(ids))
	for _, id := range ids {
		e, err := m.store.Events.GetByID(ctx, id)
		if err != nil {
			continue
		}
		events = append(events, *e)
	}
	return events, nil
}

// AppendToRing records a new event into the session's bounded ring.
func (m *SessionManager) AppendToRing(ctx context.Context, sessionID string, eventID int64) error {
	return m.store.Sessions.PushRingEvent(ctx, sessionID, eventID, m.cfg.RecentEventsRing)
}

// ReclassifyPhase checks prompt against phaseKeywords and, on a match,
// updates the session's phase. Returns the new phase if it changed.
func (m *SessionManager) ReclassifyPhase(ctx context.Context, sessionID, prompt string) (string, bool) {
	lower := strings.ToLower(prompt)
	for marker, phase := range phaseKeywords {
		if strings.Contains(lower, marker) {
			sc, err := m.Get(ctx, sessionID)
			if err != nil || sc.Phase == phase {
				return phase, false
			}
			sc.Phase = phase
			_ = m.store.Sessions.UpdateTaskPhase(ctx, sessionID, sc.Task, phase)
			logging.Get(logging.CategorySession).Info("ReclassifyPhase: session=%s phase=%s", sessionID, phase)
			return phase, true
		}
	}
	return "", false
}

// MatchesRecovery reports whether prompt carries a recovery-request marker.
func MatchesRecovery(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, marker := range recoveryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// BuildRecovery synthesises a recovery payload from the session ring.
func (m *SessionManager) BuildRecovery(ctx context.Context, sessionID string) (*RecoveryPayload, error) {
	sc, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := m.RecentEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &RecoveryPayload{SessionID: sessionID, Task: sc.Task, Phase: sc.Phase, RecentEvents: events}, nil
}
