package consolidation

import (
	"context"

	"agentmem/internal/logging"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the consolidation "sleep cycle" on a cron schedule,
// plus the retention sweep.
type Scheduler struct {
	engine        *Engine
	project       string
	strategy      Strategy
	retentionDays int
	cron          *cron.Cron
}

// NewScheduler builds a Scheduler that has not started yet; call Start to
// register its cron entries and begin running.
func NewScheduler(engine *Engine, project string, strategy Strategy, retentionDays int) *Scheduler {
	return &Scheduler{
		engine:        engine,
		project:       project,
		strategy:      strategy,
		retentionDays: retentionDays,
		cron:          cron.New(),
	}
}

// Start registers the consolidation run and retention sweep against the
// given cron expression and begins the scheduler's goroutine.
func (s *Scheduler) Start(schedule string) error {
	log := logging.Get(logging.CategoryConsolidation)
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		report, err := s.engine.Run(ctx, s.project, "", s.strategy)
		if err != nil {
			log.Error("Scheduler: consolidation run failed for project=%s: %v", s.project, err)
			return
		}
		log.Info("Scheduler: run=%d project=%s events=%d patterns=%d memories=%d procedures=%d deferred=%d",
			report.RunID, s.project, report.EventsConsolidated, report.PatternsExtracted,
			report.MemoriesCreated, report.ProceduresCreated, report.Deferred)

		if s.retentionDays > 0 {
			archived, err := s.engine.RetentionSweep(ctx, s.project, s.retentionDays)
			if err != nil {
				log.Error("Scheduler: retention sweep failed for project=%s: %v", s.project, err)
				return
			}
			if archived > 0 {
				log.Info("Scheduler: archived %d events for project=%s", archived, s.project)
			}
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
