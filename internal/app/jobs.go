/**
 * @description
 * Scheduled job entry points for the ledger-service.
 *
 * Each job runs one tick at a time per process (a second concurrent tick gets
 * ErrTickInProgress) and, when a distributed TickLocker is configured, at most
 * once across all replicas.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

const (
	JobRecurringTransfers = "recurring_transfers"
	JobMaturityPayouts    = "maturity_payouts"
)

var (
	ErrTickInProgress = errors.New("a tick for this job is already running")
	ErrTickLockHeld   = errors.New("tick lock held by another instance")
	ErrTickLockLost   = errors.New("tick lock lost while running")
)

// TickLocker is a cross-process lock for scheduler ticks (see pkg/redislock).
// held is done once the lock can no longer be relied on.
type TickLocker interface {
	TryLock(ctx context.Context, name string) (held context.Context, unlock func(), ok bool, err error)
}

// ItemFailure names one rule or maturity that failed during a tick.
type ItemFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// TickReport summarizes one tick of a job.
type TickReport struct {
	Job      string        `json:"job"`
	Date     domain.Date   `json:"date"`
	Due      int           `json:"due"`
	Executed int           `json:"executed"`
	Expired  int           `json:"expired"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

func (r *TickReport) record(id uuid.UUID, outcome itemOutcome, reason string) {
	switch outcome {
	case outcomeExecuted, outcomePaid:
		r.Executed++
	case outcomeExpired:
		r.Executed++
		r.Expired++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
		r.Failures = append(r.Failures, ItemFailure{ID: id, Reason: reason})
	}
}

// RecurringProcessor runs one pass over due recurring transfers.
type RecurringProcessor interface {
	ProcessDueRules(ctx context.Context, today domain.Date) (TickReport, error)
}

// MaturityProcessor runs one pass over due product maturities.
type MaturityProcessor interface {
	ProcessDueMaturities(ctx context.Context, today domain.Date) (TickReport, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	recurring  RecurringProcessor
	maturities MaturityProcessor
	tickLock   TickLocker
	location   *time.Location
	logger     *slog.Logger

	recurringMu sync.Mutex
	maturityMu  sync.Mutex
}

// NewJobs creates a new Jobs runner. tickLock may be nil for single-instance deployments.
func NewJobs(recurring RecurringProcessor, maturities MaturityProcessor, tickLock TickLocker, location *time.Location, logger *slog.Logger) *Jobs {
	if location == nil {
		location = time.UTC
	}
	return &Jobs{
		recurring:  recurring,
		maturities: maturities,
		tickLock:   tickLock,
		location:   location,
		logger:     logger,
	}
}

// Today returns the current calendar day in the scheduler's time zone.
func (j *Jobs) Today() domain.Date {
	return domain.Today(j.location)
}

// TickRecurringTransfers executes every recurring transfer due on today. Each
// executed rule advances by one period, so a rule whose next date was already
// today runs once per date. An overdue rule catches up one missed period per
// tick and can run again on a repeated tick for the same date until its next
// date passes today.
func (j *Jobs) TickRecurringTransfers(ctx context.Context, today domain.Date) (TickReport, error) {
	return j.runExclusive(ctx, JobRecurringTransfers, &j.recurringMu, today, j.recurring.ProcessDueRules)
}

// RunMaturityPayouts pays out every product maturity due on today.
func (j *Jobs) RunMaturityPayouts(ctx context.Context, today domain.Date) (TickReport, error) {
	return j.runExclusive(ctx, JobMaturityPayouts, &j.maturityMu, today, j.maturities.ProcessDueMaturities)
}

func (j *Jobs) runExclusive(ctx context.Context, job string, mu *sync.Mutex, today domain.Date, run func(context.Context, domain.Date) (TickReport, error)) (TickReport, error) {
	if !mu.TryLock() {
		return TickReport{Job: job, Date: today}, ErrTickInProgress
	}
	defer mu.Unlock()

	runCtx := ctx
	if j.tickLock != nil {
		held, unlock, ok, err := j.tickLock.TryLock(ctx, job)
		if err != nil {
			// Without the lock another replica may be running; skip rather than risk a double execution.
			return TickReport{Job: job, Date: today}, err
		}
		if !ok {
			return TickReport{Job: job, Date: today}, ErrTickLockHeld
		}
		defer unlock()
		// The batch checks this context before each item, so it stops once
		// another replica could have taken over.
		runCtx = held
	}

	started := time.Now()
	defer func() { tickDuration.WithLabelValues(job).Observe(time.Since(started).Seconds()) }()
	report, err := run(runCtx, today)
	if runCtx.Err() != nil && ctx.Err() == nil {
		j.logger.Error("tick lock lost; stopping batch", "job", job, "cause", context.Cause(runCtx))
		return report, fmt.Errorf("%w: %v", ErrTickLockLost, context.Cause(runCtx))
	}
	return report, err
}

// RunRecurringTransferJob is the cron entry point for recurring transfers.
func (j *Jobs) RunRecurringTransferJob() {
	j.runCronJob(JobRecurringTransfers, j.TickRecurringTransfers)
}

// RunMaturityPayoutJob is the cron entry point for maturity payouts.
func (j *Jobs) RunMaturityPayoutJob() {
	j.runCronJob(JobMaturityPayouts, j.RunMaturityPayouts)
}

func (j *Jobs) runCronJob(job string, run func(context.Context, domain.Date) (TickReport, error)) {
	today := j.Today()
	j.logger.Info("starting scheduled job", "job", job, "date", today.String())
	ctx := context.Background()

	report, err := run(ctx, today)
	switch {
	case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrTickLockHeld):
		j.logger.Info("scheduled job skipped", "job", job, "reason", err.Error())
		return
	case err != nil:
		j.logger.Error("scheduled job failed", "job", job, "error", err)
		return
	}

	j.logger.Info("scheduled job finished",
		"job", job,
		"date", today.String(),
		"due", report.Due,
		"executed", report.Executed,
		"expired", report.Expired,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
}
