package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

type recurringFixture struct {
	*testLedger
	service *RecurringService
	jobs    *Jobs
}

func newRecurringFixture(t *testing.T) *recurringFixture {
	t.Helper()
	l := newTestLedger(t)
	svc := NewRecurringService(l.repo, l.engine, l.publisher, newTestLogger(), EngineConfig{LockTimeout: time.Second})
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	maturities := NewMaturityService(l.repo, l.engine, l.publisher, newTestLogger(), EngineConfig{})
	return &recurringFixture{
		testLedger: l,
		service:    svc,
		jobs:       NewJobs(svc, maturities, nil, time.UTC, newTestLogger()),
	}
}

func (f *recurringFixture) createRule(t *testing.T, src, dst *domain.Account, amount string, freq domain.Frequency, start, end string) *domain.RecurringTransferRule {
	t.Helper()
	params := domain.NewRecurringTransferRuleParams{
		OwnerID:              "user_1",
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		Amount:               dec(amount),
		Frequency:            freq,
		StartDate:            date(t, start),
	}
	if end != "" {
		params.EndDate = date(t, end)
	}
	rule, err := f.service.CreateRule(context.Background(), params)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func (f *recurringFixture) rule(t *testing.T, id uuid.UUID) *domain.RecurringTransferRule {
	t.Helper()
	rule, err := f.service.GetRule(context.Background(), id)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	return rule
}

func date(t *testing.T, raw string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(raw)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func TestMonthlyTickAdvancesSchedule(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "500")
	dst := f.open(t, "0")
	rule := f.createRule(t, src, dst, "100", domain.FrequencyMonthly, "2024-01-15", "")

	report, err := f.jobs.TickRecurringTransfers(context.Background(), date(t, "2024-01-15"))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Due != 1 || report.Executed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	got := f.rule(t, rule.ID)
	if got.NextExecutionDate.String() != "2024-02-15" || got.LastExecutionDate.String() != "2024-01-15" {
		t.Fatalf("next=%s last=%s, want 2024-02-15 / 2024-01-15", got.NextExecutionDate, got.LastExecutionDate)
	}
	if got.Status != domain.RuleStatusActive {
		t.Fatalf("status = %s, want ACTIVE", got.Status)
	}
	if !f.balance(t, src).Equal(dec("400")) || !f.balance(t, dst).Equal(dec("100")) {
		t.Fatalf("balances src=%s dst=%s", f.balance(t, src), f.balance(t, dst))
	}
	if f.publisher.count(EventRecurringExecuted) != 1 {
		t.Fatalf("expected an executed event")
	}
}

func TestTickExpiresRulePastEndDate(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "500")
	dst := f.open(t, "0")
	rule := f.createRule(t, src, dst, "100", domain.FrequencyMonthly, "2024-01-15", "2024-01-20")

	report, err := f.jobs.TickRecurringTransfers(context.Background(), date(t, "2024-01-15"))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Expired != 1 {
		t.Fatalf("expected the rule to expire, report %+v", report)
	}
	if got := f.rule(t, rule.ID); got.Status != domain.RuleStatusCancelled || got.Active {
		t.Fatalf("status = %s active=%v, want CANCELLED inactive", got.Status, got.Active)
	}

	due, _ := f.repo.FindDueRules(context.Background(), date(t, "2024-12-31"))
	if len(due) != 0 {
		t.Fatalf("expired rule must never be due again, got %d", len(due))
	}
	if f.publisher.count(EventRecurringExpired) != 1 {
		t.Fatalf("expected an expired event")
	}
}

func TestTickIsIdempotentForSameDate(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "500")
	dst := f.open(t, "0")
	f.createRule(t, src, dst, "50", domain.FrequencyDaily, "2024-01-15", "")
	today := date(t, "2024-01-15")

	if _, err := f.jobs.TickRecurringTransfers(context.Background(), today); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	report, err := f.jobs.TickRecurringTransfers(context.Background(), today)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if report.Due != 0 || report.Executed != 0 {
		t.Fatalf("second tick executed again: %+v", report)
	}
	if !f.balance(t, dst).Equal(dec("50")) {
		t.Fatalf("destination balance = %s, want 50", f.balance(t, dst))
	}
}

func TestTickFailureDoesNotBlockBatch(t *testing.T) {
	f := newRecurringFixture(t)
	poor := f.open(t, "10")
	rich := f.open(t, "1000")
	dst := f.open(t, "0")
	failing := f.createRule(t, poor, dst, "100", domain.FrequencyWeekly, "2024-01-15", "")
	working := f.createRule(t, rich, dst, "100", domain.FrequencyWeekly, "2024-01-15", "")

	report, err := f.jobs.TickRecurringTransfers(context.Background(), date(t, "2024-01-15"))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Due != 2 || report.Executed != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != failing.ID {
		t.Fatalf("unexpected failures %+v", report.Failures)
	}

	gotFailing := f.rule(t, failing.ID)
	if gotFailing.NextExecutionDate.String() != "2024-01-15" || gotFailing.FailureCount != 1 || gotFailing.LastFailureReason == "" {
		t.Fatalf("failed rule should stay due with failure recorded: %+v", gotFailing)
	}
	if got := f.rule(t, working.ID); got.NextExecutionDate.String() != "2024-01-22" {
		t.Fatalf("working rule next = %s, want 2024-01-22", got.NextExecutionDate)
	}
	if !f.balance(t, poor).Equal(dec("10")) {
		t.Fatalf("failed rule must not move money")
	}
	if f.publisher.count(EventRecurringFailed) != 1 {
		t.Fatalf("expected a failed event")
	}

	// Funds arrive; the same rule is retried on the next tick.
	if _, err := f.engine.Deposit(context.Background(), poor.ID, dec("100"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	report, _ = f.jobs.TickRecurringTransfers(context.Background(), date(t, "2024-01-16"))
	if report.Executed != 1 {
		t.Fatalf("expected retry to execute, report %+v", report)
	}
	if got := f.rule(t, failing.ID); got.FailureCount != 0 || got.NextExecutionDate.String() != "2024-01-22" {
		t.Fatalf("retried rule not advanced: %+v", got)
	}
}

func TestOverdueRuleCatchesUpOnePeriodPerTick(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "1000")
	dst := f.open(t, "0")
	rule := f.createRule(t, src, dst, "10", domain.FrequencyDaily, "2024-01-10", "")

	if _, err := f.jobs.TickRecurringTransfers(context.Background(), date(t, "2024-01-15")); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := f.rule(t, rule.ID); got.NextExecutionDate.String() != "2024-01-11" {
		t.Fatalf("next = %s, want 2024-01-11", got.NextExecutionDate)
	}
}

func TestPausedAndCancelledRulesAreNotExecuted(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "1000")
	dst := f.open(t, "0")
	paused := f.createRule(t, src, dst, "10", domain.FrequencyDaily, "2024-01-15", "")
	cancelled := f.createRule(t, src, dst, "10", domain.FrequencyDaily, "2024-01-15", "")
	ctx := context.Background()

	if _, err := f.service.PauseRule(ctx, paused.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.service.CancelRule(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	report, _ := f.jobs.TickRecurringTransfers(ctx, date(t, "2024-01-15"))
	if report.Due != 0 {
		t.Fatalf("expected nothing due, got %+v", report)
	}
	if !f.balance(t, dst).IsZero() {
		t.Fatalf("no money should move")
	}

	resumed, err := f.service.ResumeRule(ctx, paused.ID, date(t, "2024-01-17"))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.NextExecutionDate.String() != "2024-01-17" {
		t.Fatalf("resumed next = %s, want 2024-01-17", resumed.NextExecutionDate)
	}
	if _, err := f.service.ResumeRule(ctx, cancelled.ID, date(t, "2024-01-17")); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("cancelled rule must not resume, got %v", err)
	}
}

func TestCreateRuleRejectsClosedAccount(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "0")
	dst := f.open(t, "0")
	if _, err := f.engine.CloseAccount(context.Background(), dst.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := f.service.CreateRule(context.Background(), domain.NewRecurringTransferRuleParams{
		OwnerID: "user_1", SourceAccountID: src.ID, DestinationAccountID: dst.ID,
		Amount: dec("5"), Frequency: domain.FrequencyDaily, StartDate: date(t, "2024-01-15"),
	})
	if domain.KindOf(err) != domain.KindAccountNotActive {
		t.Fatalf("expected account not active, got %v", err)
	}
}

func TestUpdateRuleEndDate(t *testing.T) {
	f := newRecurringFixture(t)
	src := f.open(t, "0")
	dst := f.open(t, "0")
	rule := f.createRule(t, src, dst, "5", domain.FrequencyWeekly, "2024-01-15", "")

	amount := dec("7.50")
	end := date(t, "2024-03-01")
	updated, err := f.service.UpdateRule(context.Background(), rule.ID, domain.RuleUpdate{Amount: &amount, EndDate: &end})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Amount.Equal(amount) || !updated.EndDate.Equal(end) {
		t.Fatalf("update not applied: %+v", updated)
	}

	tooEarly := date(t, "2024-01-01")
	if _, err := f.service.UpdateRule(context.Background(), rule.ID, domain.RuleUpdate{EndDate: &tooEarly}); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}
