package consolidation

import (
	"testing"

	"go.uber.org/goleak"
)

func TestSchedulerStartStopLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e, _, _ := newPipelineFixture(t, nil)
	s := NewScheduler(e, "proj1", StrategyBalanced, 30)
	if err := s.Start("0 3 * * *"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	e, _, _ := newPipelineFixture(t, nil)
	s := NewScheduler(e, "proj1", StrategyBalanced, 30)
	if err := s.Start("not a cron spec"); err == nil {
		s.Stop()
		t.Fatal("invalid cron expression accepted")
	}
}
