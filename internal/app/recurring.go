/**
 * @description
 * Owner operations on recurring transfer rules and the per-tick processing of
 * due rules. Owner edits and scheduled execution of the same rule serialize on
 * a per-rule lock, so a cancel can never be overwritten by an in-flight tick.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// TransferExecutor is the part of the engine that scheduled jobs drive.
type TransferExecutor interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Transfer(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
	CloseAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

const defaultRecurringDescription = "Recurring transfer"

type RecurringService struct {
	rules       store.RecurringTransferRegistry
	engine      TransferExecutor
	locks       *KeyedLocker
	lockTimeout time.Duration
	events      *eventEmitter
	logger      *slog.Logger
	now         func() time.Time
}

func NewRecurringService(rules store.RecurringTransferRegistry, engine TransferExecutor, publisher EventPublisher, logger *slog.Logger, cfg EngineConfig) *RecurringService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	return &RecurringService{
		rules:       rules,
		engine:      engine,
		locks:       NewKeyedLocker(),
		lockTimeout: cfg.LockTimeout,
		events:      newEventEmitter(publisher, cfg.EventsExchange, logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRule validates both accounts exist and are active, then stores the rule
// with its first execution date.
func (s *RecurringService) CreateRule(ctx context.Context, p domain.NewRecurringTransferRuleParams) (*domain.RecurringTransferRule, error) {
	rule, err := domain.NewRecurringTransferRule(p, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{p.SourceAccountID, p.DestinationAccountID} {
		acct, err := s.engine.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !acct.IsActive() {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotActive, id)
		}
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info("recurring transfer created", "rule_id", rule.ID, "owner_id", rule.OwnerID, "frequency", rule.Frequency, "next_execution_date", rule.NextExecutionDate.String())
	return rule, nil
}

func (s *RecurringService) GetRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
	return s.rules.GetRule(ctx, id)
}

func (s *RecurringService) ListRules(ctx context.Context, ownerID string) ([]domain.RecurringTransferRule, error) {
	return s.rules.ListRulesByOwner(ctx, ownerID)
}

// mutateRule re-reads the rule under its lock, applies fn and saves.
func (s *RecurringService) mutateRule(ctx context.Context, id uuid.UUID, fn func(rule *domain.RecurringTransferRule, now time.Time) error) (*domain.RecurringTransferRule, error) {
	release, err := s.locks.Acquire(ctx, s.lockTimeout, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rule, s.now()); err != nil {
		return nil, err
	}
	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RecurringService) UpdateRule(ctx context.Context, id uuid.UUID, update domain.RuleUpdate) (*domain.RecurringTransferRule, error) {
	return s.mutateRule(ctx, id, func(rule *domain.RecurringTransferRule, now time.Time) error {
		return rule.Update(update, now)
	})
}

func (s *RecurringService) PauseRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
	return s.mutateRule(ctx, id, func(rule *domain.RecurringTransferRule, now time.Time) error {
		return rule.Pause(now)
	})
}

// ResumeRule reactivates a paused rule; missed periods before today are skipped.
func (s *RecurringService) ResumeRule(ctx context.Context, id uuid.UUID, today domain.Date) (*domain.RecurringTransferRule, error) {
	return s.mutateRule(ctx, id, func(rule *domain.RecurringTransferRule, now time.Time) error {
		return rule.Resume(today, now)
	})
}

func (s *RecurringService) CancelRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
	rule, err := s.mutateRule(ctx, id, func(rule *domain.RecurringTransferRule, now time.Time) error {
		return rule.Cancel(now)
	})
	if err == nil {
		s.logger.Info("recurring transfer cancelled", "rule_id", id)
	}
	return rule, err
}

// itemOutcome is the result of processing one due rule or maturity.
type itemOutcome string

const (
	outcomeExecuted itemOutcome = "executed"
	outcomeExpired  itemOutcome = "expired"
	outcomeFailed   itemOutcome = "failed"
	outcomeSkipped  itemOutcome = "skipped"
	outcomePaid     itemOutcome = "paid"
)

// ProcessDueRules runs one pass over every rule due on today. A failing rule is
// recorded and the batch continues; each rule is persisted before the next one
// starts.
func (s *RecurringService) ProcessDueRules(ctx context.Context, today domain.Date) (TickReport, error) {
	report := TickReport{Job: JobRecurringTransfers, Date: today}

	due, err := s.rules.FindDueRules(ctx, today)
	if err != nil {
		return report, fmt.Errorf("find due rules: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		s.logger.Info("no recurring transfers due", "date", today.String())
		return report, nil
	}
	s.logger.Info("found recurring transfers to process", "date", today.String(), "count", len(due))

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, reason := s.processRule(ctx, candidate.ID, today)
		ruleExecutionsTotal.WithLabelValues(JobRecurringTransfers, string(outcome)).Inc()
		report.record(candidate.ID, outcome, reason)
	}
	return report, nil
}

func (s *RecurringService) processRule(ctx context.Context, ruleID uuid.UUID, today domain.Date) (itemOutcome, string) {
	logger := s.logger.With("rule_id", ruleID, "date", today.String())

	release, err := s.locks.Acquire(ctx, s.lockTimeout, ruleID)
	if err != nil {
		logger.Warn("recurring transfer busy; retrying next tick", "error", err)
		return outcomeFailed, err.Error()
	}
	defer release()

	// Re-read: the owner may have paused or cancelled it since FindDueRules.
	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil {
		logger.Error("failed to reload recurring transfer", "error", err)
		return outcomeFailed, err.Error()
	}
	if !rule.IsDue(today) {
		logger.Info("recurring transfer no longer due", "status", rule.Status, "next_execution_date", rule.NextExecutionDate.String())
		return outcomeSkipped, ""
	}

	description := rule.Description
	if description == "" {
		description = defaultRecurringDescription
	}

	tx, err := s.engine.Transfer(ctx, rule.SourceAccountID, rule.DestinationAccountID, rule.Amount, description)
	if err != nil {
		reason := err.Error()
		rule.RecordFailure(reason, s.now())
		if saveErr := s.rules.SaveRule(context.WithoutCancel(ctx), rule); saveErr != nil {
			logger.Error("failed to record recurring transfer failure", "error", saveErr)
		}
		logger.Warn("recurring transfer failed; will retry next tick",
			"kind", domain.KindOf(err),
			"failure_count", rule.FailureCount,
			"error", err,
		)
		s.events.emit(ctx, EventRecurringFailed, ruleEventPayload{
			RuleID:            rule.ID,
			OwnerID:           rule.OwnerID,
			ExecutionDate:     rule.NextExecutionDate,
			Amount:            rule.Amount,
			NextExecutionDate: rule.NextExecutionDate,
			Status:            rule.Status,
			FailureCount:      rule.FailureCount,
			Reason:            reason,
		})
		return outcomeFailed, reason
	}

	// The transfer is committed; the schedule must advance even if the
	// caller's context is cancelled from here on.
	ctx = context.WithoutCancel(ctx)

	executedFor := rule.NextExecutionDate
	expired := rule.RecordSuccess(today, s.now())
	if err := s.rules.SaveRule(ctx, rule); err != nil {
		// The money moved but the schedule did not advance; this needs an operator.
		logger.Error("recurring transfer executed but schedule not advanced",
			"transaction_id", tx.ID,
			"error", err,
		)
		return outcomeFailed, fmt.Sprintf("executed as %s but failed to advance schedule: %v", tx.ID, err)
	}

	payload := ruleEventPayload{
		RuleID:            rule.ID,
		OwnerID:           rule.OwnerID,
		ExecutionDate:     executedFor,
		Amount:            rule.Amount,
		TransactionID:     &tx.ID,
		NextExecutionDate: rule.NextExecutionDate,
		Status:            rule.Status,
	}
	s.events.emit(ctx, EventRecurringExecuted, payload)
	logger.Info("recurring transfer executed", "transaction_id", tx.ID, "next_execution_date", rule.NextExecutionDate.String())

	if expired {
		s.events.emit(ctx, EventRecurringExpired, payload)
		logger.Info("recurring transfer reached its end date", "end_date", rule.EndDate.String())
		return outcomeExpired, ""
	}
	return outcomeExecuted, ""
}
