package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a unit of periodic work.
type Task func(context.Context) error

// Scheduler runs named tasks on cron schedules such as "@every 15m".
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler creates a scheduler whose runs are bounded by timeout.
func NewScheduler(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Register adds task under name, fired on the cron schedule.
func (s *Scheduler) Register(name, schedule string, task Task) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Sugar().Infow("task scheduled", "task", name, "schedule", schedule)
	return nil
}

// Start begins running scheduled tasks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes task once outside the schedule.
func (s *Scheduler) RunNow(name string, task Task) {
	s.run(name, task)
}

func (s *Scheduler) run(name string, task Task) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Sugar().Errorw("task panicked", "task", name, "panic", r)
		}
	}()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Sugar().Warnw("task failed", "task", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Sugar().Debugw("task finished", "task", name, "duration", time.Since(start))
}
