package consolidation

import (
	"context"
	"sync"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/storage"
)

// validationTimeout bounds each System 2 call so one slow candidate cannot
// stall the whole run.
const validationTimeout = 10 * time.Second

// Report summarizes one completed run.
type Report struct {
	RunID              int64
	EventsConsolidated int
	PatternsExtracted  int
	ProceduresCreated  int
	MemoriesCreated    int
	Deferred           int
	CompressionRatio   float64
	QualityScore       float64
	Duration           time.Duration
}

// Engine runs the dual-process consolidation pipeline end to end.
type Engine struct {
	Store *storage.Store
	LLM   llmclient.Client
	Clock clock.Clock
}

func NewEngine(store *storage.Store, llm llmclient.Client, c clock.Clock) *Engine {
	return &Engine{Store: store, LLM: llm, Clock: c}
}

// Run executes selection -> clustering -> extraction -> validation ->
// promotion -> lifecycle update for one project/session. Each cluster is
// isolated: a failure validating or promoting one candidate does not
// abort the others.
func (e *Engine) Run(ctx context.Context, project, sessionID string, strategy Strategy) (Report, error) {
	log := logging.Get(logging.CategoryConsolidation)
	start := e.Clock.Now()
	params := ParamsFor(strategy)

	runID, err := e.Store.Consolidation.StartRun(ctx, project, string(strategy))
	if err != nil {
		return Report{}, err
	}

	events, err := Select(ctx, e.Store, project, sessionID, start, params)
	if err != nil {
		return Report{}, err
	}
	if len(events) == 0 {
		_ = e.Store.Consolidation.FinishRun(ctx, runID, storage.ConsolidationRun{})
		return Report{RunID: runID}, nil
	}

	clusters := Build(events, params.ClusterTau, params.TemporalHalfLife)
	candidates := Extract(clusters)

	results := make([]candidateOutcome, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			results[i] = e.processCandidate(ctx, project, runID, c, params)
		}(i, c)
	}
	wg.Wait()

	var patternsExtracted, proceduresCreated, memoriesCreated, deferred, promoted int
	var qualitySum float64
	for _, r := range results {
		patternsExtracted++
		if r.deferred {
			deferred++
			continue
		}
		if r.promotion.ProcedureID != 0 {
			proceduresCreated++
		}
		if r.promotion.MemoryID != 0 {
			memoriesCreated++
		}
		if r.promotion.ProcedureID != 0 || r.promotion.MemoryID != 0 {
			promoted++
			qualitySum += r.quality
		}
	}

	compression := 0.0
	if len(events) > 0 {
		compression = 1 - float64(patternsExtracted)/float64(len(events))
	}
	quality := 0.0
	if promoted > 0 {
		quality = qualitySum / float64(promoted)
	}
	duration := e.Clock.Now().Sub(start)

	if err := e.Store.Consolidation.FinishRun(ctx, runID, storage.ConsolidationRun{
		EventsConsolidated: len(events),
		PatternsExtracted:  patternsExtracted,
		ProceduresCreated:  proceduresCreated,
		CompressionRatio:   compression,
		QualityScore:       quality,
		DurationMs:         duration.Milliseconds(),
	}); err != nil {
		log.Warn("Run: finish run %d failed: %v", runID, err)
	}

	return Report{
		RunID:              runID,
		EventsConsolidated: len(events),
		PatternsExtracted:  patternsExtracted,
		ProceduresCreated:  proceduresCreated,
		MemoriesCreated:    memoriesCreated,
		Deferred:           deferred,
		CompressionRatio:   compression,
		QualityScore:       quality,
		Duration:           duration,
	}, nil
}

type candidateOutcome struct {
	promotion Promotion
	deferred  bool
	quality   float64
}

// processCandidate validates, promotes, and applies lifecycle updates for
// one Candidate, catching any storage/LLM failure locally so the rest of
// the run proceeds.
func (e *Engine) processCandidate(ctx context.Context, project string, runID int64, c Candidate, params Params) candidateOutcome {
	log := logging.Get(logging.CategoryConsolidation)

	pattern := &storage.ExtractedPattern{RunID: runID, ProjectID: project, ClusterKey: c.ClusterKey, Uncertainty: c.Uncertainty}
	if _, err := e.Store.Consolidation.CreatePattern(ctx, pattern); err != nil {
		log.Warn("processCandidate: cluster=%s create pattern failed: %v", c.ClusterKey, err)
		return candidateOutcome{}
	}

	needsS2 := (c.Uncertainty > params.ValidationThreshold || params.ForceS2) && !params.DisableS2
	var v Validation
	if needsS2 {
		v = Validate(ctx, e.LLM, c, validationTimeout)
	} else {
		v = fastAccept(c)
	}

	if v.Deferred {
		_ = e.Store.Consolidation.MarkDeferred(ctx, pattern.ID)
		_ = ApplyLifecycle(ctx, e.Store, c, v)
		return candidateOutcome{deferred: true}
	}
	if !v.Valid {
		_ = ApplyLifecycle(ctx, e.Store, c, v)
		return candidateOutcome{}
	}

	promotion, err := Promote(ctx, e.Store, project, c, v)
	if err != nil {
		log.Warn("processCandidate: cluster=%s promotion failed: %v", c.ClusterKey, err)
		return candidateOutcome{}
	}
	if err := e.Store.Consolidation.MarkPromoted(ctx, pattern.ID, promotion.MemoryID, promotion.ProcedureID); err != nil {
		log.Warn("processCandidate: cluster=%s mark promoted failed: %v", c.ClusterKey, err)
	}
	if err := ApplyLifecycle(ctx, e.Store, c, v); err != nil {
		log.Warn("processCandidate: cluster=%s lifecycle update failed: %v", c.ClusterKey, err)
	}
	// Promoted-candidate quality blends the validator's confidence with the
	// cluster's cohesion, so a confident judgment on a loose cluster still
	// reads weaker than one on a tight cluster.
	return candidateOutcome{promotion: promotion, quality: (v.Confidence + c.Cohesion) / 2}
}

// RetentionSweep archives consolidated events past the retention window.
func (e *Engine) RetentionSweep(ctx context.Context, project string, retentionDays int) (int, error) {
	ids, err := e.Store.Events.ArchiveEligible(ctx, project, retentionDays)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.Store.Events.Archive(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
