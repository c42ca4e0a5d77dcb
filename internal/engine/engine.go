// Package engine is agentmem's composition root: it wires the storage
// substrate, embedding and LLM clients, graph traverser, working-memory
// buffer, hook dispatcher, recall router, and consolidation engine into one
// EngineContext, and registers the operation namespace over them. Nothing
// here is a global: callers hold the Engine value and pass it down.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agentmem/internal/clock"
	"agentmem/internal/config"
	"agentmem/internal/consolidation"
	"agentmem/internal/embedding"
	"agentmem/internal/graph"
	"agentmem/internal/hooks"
	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/operations"
	"agentmem/internal/recall"
	"agentmem/internal/storage"
	"agentmem/internal/types"
	"agentmem/internal/workingmemory"
)

// Options carries the injectable collaborators. Every field is optional:
// a nil Clock becomes the system clock, a nil Embedding/LLM leaves the
// corresponding tier degraded rather than failing construction (the
// dependencies are out-of-core and may simply not be running).
type Options struct {
	Clock     clock.Clock
	Embedding embedding.EmbeddingEngine
	LLM       llmclient.Client
	Metrics   prometheus.Registerer
}

// Engine is the assembled memory engine.
type Engine struct {
	Cfg   *config.Config
	Clock clock.Clock

	Store         *storage.Store
	Embedding     embedding.EmbeddingEngine
	LLM           llmclient.Client
	Graph         *graph.Traverser
	Buffer        *workingmemory.Buffer
	Meta          *workingmemory.Meta
	Hooks         *hooks.Dispatcher
	Router        *recall.Router
	Consolidation *consolidation.Engine
	Registry      *operations.Registry

	scheduler *consolidation.Scheduler
}

// New opens the database at cfg.Storage.DatabasePath and assembles the
// full engine. The returned Engine owns the store handle; Close releases it.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	c := opts.Clock
	if c == nil {
		c = clock.System{}
	}

	store, err := storage.Open(cfg.Storage.DatabasePath, c)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, store, c, opts)
}

// NewWithStore assembles the engine over an already-open store. Used by
// tests that open an in-memory database themselves.
func NewWithStore(cfg *config.Config, store *storage.Store, opts Options) (*Engine, error) {
	c := opts.Clock
	if c == nil {
		c = clock.System{}
	}
	return assemble(cfg, store, c, opts)
}

func assemble(cfg *config.Config, store *storage.Store, c clock.Clock, opts Options) (*Engine, error) {
	traverser, err := graph.NewTraverser(store.Graph)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: graph traverser: %w", err)
	}

	buffer := workingmemory.New(workingmemory.Config{
		Capacity:       cfg.WorkingMemory.Capacity,
		Alpha:          cfg.WorkingMemory.Alpha,
		DecayPerMin:    cfg.WorkingMemory.DecayPerMin,
		Reinforcement:  cfg.WorkingMemory.Reinforcement,
		RouteThreshold: cfg.WorkingMemory.RouteThreshold,
	}, c)
	meta := workingmemory.NewMeta(buffer, store, opts.Metrics)

	hookCfg := hooks.DefaultConfig()
	if cfg.Hooks.IdempotencyWindowS > 0 {
		hookCfg.IdempotencyWindow = secondsToDuration(cfg.Hooks.IdempotencyWindowS)
	}
	if cfg.Hooks.RateLimitPerMin > 0 {
		hookCfg.RateLimitPerMin = cfg.Hooks.RateLimitPerMin
	}
	if cfg.Hooks.MaxDepth > 0 {
		hookCfg.MaxDepth = cfg.Hooks.MaxDepth
	}
	if cfg.Hooks.MaxBreadth > 0 {
		hookCfg.MaxBreadth = cfg.Hooks.MaxBreadth
	}
	if cfg.Hooks.RecentEventsRing > 0 {
		hookCfg.RecentEventsRing = cfg.Hooks.RecentEventsRing
	}
	dispatcher := hooks.New(store, c, hookCfg)

	router := &recall.Router{
		Store:     store,
		Embedding: opts.Embedding,
		LLM:       opts.LLM,
		Graph:     traverser,
		Meta:      meta,
		Sessions:  dispatcher.Sessions(),
		Clock:     c,
		Cfg:       cfg.Recall,
	}

	e := &Engine{
		Cfg:           cfg,
		Clock:         c,
		Store:         store,
		Embedding:     opts.Embedding,
		LLM:           opts.LLM,
		Graph:         traverser,
		Buffer:        buffer,
		Meta:          meta,
		Hooks:         dispatcher,
		Router:        router,
		Consolidation: consolidation.NewEngine(store, opts.LLM, c),
		Registry:      operations.NewRegistry(),
	}
	e.registerOperations()

	logging.Get(logging.CategoryBoot).Info("engine assembled: db=%s embedding=%v llm=%v",
		cfg.Storage.DatabasePath, opts.Embedding != nil, opts.LLM != nil)
	return e, nil
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// Focus inserts a cross-layer reference into the working-memory buffer. If
// the insert evicts a slot whose composite score clears the route threshold,
// the evictee is persisted back into the episodic log before it is lost -
// the short-term-to-long-term consolidation trigger.
func (e *Engine) Focus(ctx context.Context, project string, ref types.ItemRef, salience float64) error {
	routed := e.Buffer.Insert(ref, salience)
	e.Meta.Tick()
	if routed == nil {
		return nil
	}

	content, err := e.describeRef(ctx, routed.Slot.ItemRef)
	if err != nil {
		logging.Get(logging.CategoryWorkingMemory).Warn("Focus: describe evictee %v: %v", routed.Slot.ItemRef, err)
		content = fmt.Sprintf("%s item %d", routed.Slot.ItemRef.Layer, routed.Slot.ItemRef.ID)
	}

	_, err = e.Store.Events.Append(ctx, &types.Event{
		ProjectID:       project,
		SessionID:       "working-memory",
		EventType:       types.EventObservation,
		Content:         fmt.Sprintf("retained focus: %s", content),
		Outcome:         types.OutcomeNone,
		ImportanceScore: routed.Composite,
		Confidence:      routed.Slot.Salience,
	})
	return err
}

// describeRef resolves a weak (layer, id) reference to its content text.
func (e *Engine) describeRef(ctx context.Context, ref types.ItemRef) (string, error) {
	switch ref.Layer {
	case string(recall.LayerEpisodic):
		ev, err := e.Store.Events.GetByID(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		return ev.Content, nil
	case string(recall.LayerSemantic):
		m, err := e.Store.Semantic.GetByID(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		return m.Content, nil
	case string(recall.LayerProcedural):
		p, err := e.Store.Procedures.GetByID(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	default:
		return "", types.NewError(types.ErrInvalidArgument, false, "unknown layer %q", ref.Layer)
	}
}

// StartScheduler begins the background consolidation cron ("sleep cycle")
// for one project, using the configured strategy and schedule.
func (e *Engine) StartScheduler(project string) error {
	if e.scheduler != nil {
		return types.NewError(types.ErrConflict, false, "scheduler already running")
	}
	s := consolidation.NewScheduler(
		e.Consolidation,
		project,
		consolidation.Strategy(e.Cfg.Consolidation.Strategy),
		e.Cfg.Storage.RetentionDays,
	)
	if err := s.Start(e.Cfg.Consolidation.CronSchedule); err != nil {
		return err
	}
	e.scheduler = s
	return nil
}

// Close stops the scheduler (if running) and releases the store.
func (e *Engine) Close() error {
	if e.scheduler != nil {
		e.scheduler.Stop()
		e.scheduler = nil
	}
	return e.Store.Close()
}
