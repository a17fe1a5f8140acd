// Package jobs runs the periodic maintenance work: expiring
// invitations, overdue-task reminders and cleanup. Each job runs once
// at start and then on its own ticker until the context ends. A failing
// run is logged and the job carries on.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/config"
	"github.com/kidandcat/workboard/internal/service"
)

// Func is one run of a job. now is the scheduler clock's time.
type Func func(ctx context.Context, now time.Time) error

type job struct {
	name  string
	every time.Duration
	run   Func
}

type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger
	jobs   []job
}

func New(clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{clock: clk, logger: logger}
}

// Add registers fn to run every interval. Non-positive intervals
// disable the job.
func (s *Scheduler) Add(name string, every time.Duration, fn Func) {
	if every <= 0 {
		s.logger.Info("job disabled", "job", name)
		return
	}
	s.jobs = append(s.jobs, job{name: name, every: every, run: fn})
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			ticker := s.clock.NewTicker(j.every)
			defer ticker.Stop()
			s.runOnce(ctx, j)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.runOnce(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	start := s.clock.Now()
	if err := j.run(ctx, start); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("job failed", "job", j.name, "error", err)
		return
	}
	s.logger.Debug("job finished", "job", j.name, "took", time.Since(start))
}

// Register adds the standard maintenance jobs for svc.
func Register(s *Scheduler, svc *service.Service, cfg config.JobsConfig) {
	s.Add("expire-invitations", cfg.SweepInterval, func(ctx context.Context, now time.Time) error {
		n, err := svc.SweepExpiredInvitations(ctx, now)
		if n > 0 {
			s.logger.Info("invitations expired", "count", n)
		}
		return err
	})
	s.Add("overdue-reminders", cfg.ReminderInterval, func(ctx context.Context, now time.Time) error {
		n, err := svc.RemindOverdueTasks(ctx, now)
		if n > 0 {
			s.logger.Info("overdue reminders raised", "count", n)
		}
		return err
	})
	s.Add("due-soon-reminders", cfg.ReminderInterval, func(ctx context.Context, now time.Time) error {
		n, err := svc.RemindDueSoonTasks(ctx, now, cfg.DueSoonWindow)
		if n > 0 {
			s.logger.Info("due-soon reminders raised", "count", n)
		}
		return err
	})
	s.Add("cleanup", cfg.CleanupInterval, func(ctx context.Context, now time.Time) error {
		sessions, err := svc.CleanupSessions(ctx)
		if err != nil {
			return err
		}
		notifications, err := svc.CleanupNotifications(ctx, now)
		if err != nil {
			return err
		}
		if sessions+notifications > 0 {
			s.logger.Info("cleanup finished", "sessions", sessions, "notifications", notifications)
		}
		return nil
	})
}
