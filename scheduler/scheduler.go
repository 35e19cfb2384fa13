// Package scheduler runs jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is work triggered at a point in time.
type Job interface {
	Run(ctx context.Context, now time.Time) error
}

// Scheduler triggers jobs in a fixed location. A job still running when its
// next trigger fires skips that trigger.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.SugaredLogger
	timeout time.Duration
}

func New(loc *time.Location, timeout time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		timeout: timeout,
	}
}

// Add registers job under name for the standard five field spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(name, job, time.Now()) }); err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	s.log.Infow("scheduler", "status", "job registered", "job", name, "spec", spec)
	return nil
}

// RunNow runs job once with the trigger timeout, logging and panic recovery.
func (s *Scheduler) RunNow(name string, job Job, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("scheduler", "status", "job panicked", "job", name, "panic", r)
		}
	}()

	start := time.Now()
	s.log.Infow("scheduler", "status", "job started", "job", name)
	if err := job.Run(ctx, now); err != nil {
		s.log.Errorw("scheduler", "status", "job failed", "job", name, "error", err.Error())
		return
	}
	s.log.Infow("scheduler", "status", "job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
