// internal/scheduler/scheduler.go

// Package scheduler triggers pipeline runs periodically: daily at a fixed
// hour and minute, or every N hours in interval mode. Overlap protection
// lives in the orchestrator; the scheduler just fires triggers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/utils"
)

// TriggerFunc runs one pipeline invocation. It must tolerate overlapping
// calls by coalescing, not queuing.
type TriggerFunc func(ctx context.Context)

// Scheduler fires a trigger on a configurable cadence.
type Scheduler struct {
	mu      sync.Mutex
	cfg     config.ScheduleConfig
	trigger TriggerFunc
	timer   *time.Timer
	next    time.Time
	stopped bool
	logger  utils.Logger
	now     func() time.Time
}

// New builds a scheduler. Start must be called to arm it.
func New(cfg config.ScheduleConfig, trigger TriggerFunc) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		trigger: trigger,
		logger:  utils.NewComponentLogger("scheduler"),
		now:     time.Now,
	}
}

// Start arms the first trigger. The context bounds every triggered run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	s.arm(ctx)
	s.logger.Infof("scheduler armed, next run at %s", s.next.Format(time.RFC3339))
}

// Stop disarms the scheduler. A run in flight is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Update replaces the schedule and re-arms. The context is used for runs
// fired under the new schedule.
func (s *Scheduler) Update(ctx context.Context, cfg config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.timer != nil {
		s.timer.Stop()
	}
	if !s.stopped {
		s.arm(ctx)
		s.logger.Infof("schedule updated, next run at %s", s.next.Format(time.RFC3339))
	}
}

// NextRun returns when the next trigger fires.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Schedule returns the active schedule settings.
func (s *Scheduler) Schedule() config.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// arm computes the next fire time and sets the timer. Caller holds mu.
func (s *Scheduler) arm(ctx context.Context) {
	s.next = nextFire(s.now(), s.cfg)
	d := s.next.Sub(s.now())

	s.timer = time.AfterFunc(d, func() {
		if ctx.Err() != nil {
			return
		}
		s.trigger(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped && ctx.Err() == nil {
			s.arm(ctx)
		}
	})
}

// nextFire returns the next trigger time after now. Interval mode takes
// precedence over the daily hour and minute.
func nextFire(now time.Time, cfg config.ScheduleConfig) time.Time {
	if cfg.IntervalHours > 0 {
		return now.Add(time.Duration(cfg.IntervalHours) * time.Hour)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), cfg.Hour, cfg.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
