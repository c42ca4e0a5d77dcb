package hooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// Args describes one hook firing's payload, from which the persisted
// Event and the idempotency fingerprint are derived.
type Args struct {
	SessionID  string
	ProjectID  string
	Content    string
	EventType  types.EventType
	Outcome    types.Outcome
	Context    types.EventContext
	Importance float64
	Confidence float64
	DurationMs int64
}

// Result is returned by Fire.
type Result struct {
	EventID      int64
	Deduplicated bool
	Recovery     *RecoveryPayload
}

// Dispatcher fires hooks through three safety guards (idempotency, rate
// limit, cascade monitor) and persists every successful fire as an
// episodic Event.
type Dispatcher struct {
	store    *storage.Store
	clock    clock.Clock
	cfg      Config
	limiter  *rateLimiter
	sessions *SessionManager
}

// New constructs a Dispatcher over store.
func New(store *storage.Store, c clock.Clock, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		clock:    c,
		cfg:      cfg,
		limiter:  newRateLimiter(c, cfg.RateLimitPerMin),
		sessions: NewSessionManager(store, c, cfg),
	}
}

// Sessions exposes the dispatcher's session manager, consumed by the
// recall router to auto-load session context.
func (d *Dispatcher) Sessions() *SessionManager { return d.sessions }

// fingerprint hashes hookID with the canonical firing context.
func fingerprint(hookID ID, a Args) string {
	ctxBytes, _ := json.Marshal(a.Context)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", hookID, a.SessionID, a.EventType, a.Content, string(ctxBytes))
	return hex.EncodeToString(h.Sum(nil))
}

// Fire executes hookID with args. The cascade guard runs first, so a cycle,
// nesting or fan-out violation aborts before any other guard or write; the
// idempotency check and then the rate limit follow, after which the event is
// persisted and session context updated. ctx may already carry a chainState from an enclosing Fire call
// (nested/cascading hook); if not, a new cascade root is started.
func (d *Dispatcher) Fire(ctx context.Context, hookID ID, a Args) (Result, error) {
	ctx, chain := chainFrom(ctx)

	pop, cascadeErr := chain.enter(hookID, d.cfg.MaxDepth, d.cfg.MaxBreadth)
	if cascadeErr != nil {
		logging.Get(logging.CategoryHooks).Warn("Fire: %s cascade violation: %v", hookID, cascadeErr)
		return Result{}, cascadeErr
	}
	defer pop()

	fp := fingerprint(hookID, a)
	since := d.clock.Now().Add(-d.cfg.IdempotencyWindow)
	if existingID, found, err := d.store.Hooks.FindRecent(ctx, fp, since); err != nil {
		return Result{}, err
	} else if found {
		logging.Get(logging.CategoryHooks).Debug("Fire: %s idempotent hit fingerprint=%s event=%d", hookID, fp, existingID)
		return Result{EventID: existingID, Deduplicated: true}, nil
	}

	if !d.limiter.Allow(hookID) {
		return Result{}, types.NewError(types.ErrRateLimited, true, "hook %q exceeded %d/min", hookID, d.cfg.RateLimitPerMin)
	}

	event := &types.Event{
		ProjectID:       a.ProjectID,
		SessionID:       a.SessionID,
		EventType:       a.EventType,
		Content:         a.Content,
		Outcome:         a.Outcome,
		Context:         a.Context,
		ImportanceScore: a.Importance,
		Confidence:      a.Confidence,
		DurationMs:      a.DurationMs,
	}
	if event.EventType == "" {
		event.EventType = types.EventAction
	}
	appended, err := d.store.Events.Append(ctx, event)
	if err != nil {
		return Result{}, err
	}

	if err := d.store.Hooks.Record(ctx, string(hookID), fp, appended.ID); err != nil {
		return Result{}, err
	}

	result := Result{EventID: appended.ID, Deduplicated: appended.Deduplicated}

	if err := d.afterFire(ctx, hookID, a, appended.ID, &result); err != nil {
		logging.Get(logging.CategoryHooks).Warn("Fire: %s post-processing error: %v", hookID, err)
	}

	return result, nil
}

// afterFire runs hook-specific session-context side effects: session
// lifecycle, ring append, phase reclassification, and auto-recovery.
func (d *Dispatcher) afterFire(ctx context.Context, hookID ID, a Args, eventID int64, result *Result) error {
	switch hookID {
	case SessionStart:
		return d.sessions.Start(ctx, a.SessionID, a.ProjectID, a.Context.Task, a.Context.Phase)
	case SessionEnd:
		return d.sessions.End(ctx, a.SessionID)
	case ConversationTurn, UserPromptSubmit:
		if err := d.sessions.AppendToRing(ctx, a.SessionID, eventID); err != nil {
			return err
		}
		d.sessions.ReclassifyPhase(ctx, a.SessionID, a.Content)
		if hookID == UserPromptSubmit && MatchesRecovery(a.Content) {
			recovery, err := d.sessions.BuildRecovery(ctx, a.SessionID)
			if err == nil {
				result.Recovery = recovery
			}
		}
		return nil
	default:
		return d.sessions.AppendToRing(ctx, a.SessionID, eventID)
	}
}
