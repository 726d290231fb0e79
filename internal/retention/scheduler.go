package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler runs jobs on cron expressions. A job never overlaps with its
// own previous run.
type Scheduler struct {
	cron   *gocron.Scheduler
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler builds a stopped Scheduler in UTC.
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, log: log.Named("scheduler"), ctx: ctx, cancel: cancel}
}

// AddJob registers task under name. The task context is cancelled by Stop.
func (s *Scheduler) AddJob(name, cronExpr string, task func(ctx context.Context)) error {
	job, err := s.cron.Cron(cronExpr).Tag(name).Do(func() {
		start := time.Now()
		s.log.Debug("job started", zap.String("job", name))
		task(s.ctx)
		s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, cronExpr, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("cron", cronExpr), zap.Time("next_run", job.NextRun()))
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.StartAsync()
	s.running = true
}

// Stop cancels running jobs and halts the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Schedule registers the sweep on sched.
func (s *Sweeper) Schedule(sched *Scheduler, cronExpr string) error {
	return sched.AddJob("retention_sweep", cronExpr, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("retention sweep failed", zap.Error(err))
		}
	})
}
