/**
 * @description
 * Cron scheduler setup for the ledger jobs.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds the cron expressions for each job.
type ScheduleConfig struct {
	RecurringTransferSchedule string
	MaturityPayoutSchedule    string
	Location                  *time.Location
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config ScheduleConfig
}

// NewScheduler creates a new scheduler instance. SkipIfStillRunning keeps a
// slow tick from overlapping the next one.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg ScheduleConfig) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. An invalid
// expression is an error so a misconfigured deployment fails at startup.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.RecurringTransferSchedule, s.jobs.RunRecurringTransferJob); err != nil {
		return fmt.Errorf("schedule recurring transfer job %q: %w", s.config.RecurringTransferSchedule, err)
	}
	s.logger.Info("scheduled recurring transfer job", "schedule", s.config.RecurringTransferSchedule)

	if _, err := s.cron.AddFunc(s.config.MaturityPayoutSchedule, s.jobs.RunMaturityPayoutJob); err != nil {
		return fmt.Errorf("schedule maturity payout job %q: %w", s.config.MaturityPayoutSchedule, err)
	}
	s.logger.Info("scheduled maturity payout job", "schedule", s.config.MaturityPayoutSchedule)

	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
