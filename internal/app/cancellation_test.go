package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// contextAwareRepository fails saves on a cancelled context the way a pgx
// Exec does.
type contextAwareRepository struct {
	*store.MemoryRepository
}

func (r contextAwareRepository) SaveRule(ctx context.Context, rule *domain.RecurringTransferRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRepository.SaveRule(ctx, rule)
}

func (r contextAwareRepository) SaveMaturity(ctx context.Context, m *domain.ProductMaturity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRepository.SaveMaturity(ctx, m)
}

// cancelAfterTransfer cancels the caller's context as soon as a transfer commits.
type cancelAfterTransfer struct {
	*Engine
	cancel context.CancelFunc
}

func (e cancelAfterTransfer) Transfer(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	tx, err := e.Engine.Transfer(ctx, sourceID, destID, amount, description)
	e.cancel()
	return tx, err
}

func TestCancelledTickStillAdvancesExecutedRule(t *testing.T) {
	l := newTestLedger(t)
	src := l.open(t, "500")
	dst := l.open(t, "0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := contextAwareRepository{l.repo}
	svc := NewRecurringService(repo, cancelAfterTransfer{Engine: l.engine, cancel: cancel}, l.publisher, newTestLogger(), EngineConfig{LockTimeout: time.Second})
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	rule, err := svc.CreateRule(context.Background(), domain.NewRecurringTransferRuleParams{
		OwnerID:              "user_1",
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		Amount:               dec("100"),
		Frequency:            domain.FrequencyMonthly,
		StartDate:            date(t, "2024-01-15"),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	today := date(t, "2024-01-15")
	report, err := svc.ProcessDueRules(ctx, today)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if report.Executed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected first report %+v", report)
	}

	got, err := svc.GetRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.NextExecutionDate.String() != "2024-02-15" {
		t.Fatalf("next execution = %s, want 2024-02-15", got.NextExecutionDate)
	}

	report, err = svc.ProcessDueRules(context.Background(), today)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if report.Executed != 0 {
		t.Fatalf("rule paid twice for the same date: %+v", report)
	}
	if bal := l.balance(t, dst); !bal.Equal(dec("100")) {
		t.Fatalf("destination balance = %s, want 100", bal)
	}
}

func TestCancelledPayoutStillMarksMaturityPaid(t *testing.T) {
	l := newTestLedger(t)
	product := l.open(t, "250")
	payout := l.open(t, "0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := contextAwareRepository{l.repo}
	svc := NewMaturityService(repo, cancelAfterTransfer{Engine: l.engine, cancel: cancel}, l.publisher, newTestLogger(), EngineConfig{LockTimeout: time.Second})

	m, err := svc.CreateMaturity(context.Background(), "user_1", product.ID, payout.ID, date(t, "2024-03-01"))
	if err != nil {
		t.Fatalf("create maturity: %v", err)
	}

	report, err := svc.ProcessDueMaturities(ctx, date(t, "2024-03-01"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Executed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, err := svc.GetMaturity(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get maturity: %v", err)
	}
	if got.Status != domain.MaturityStatusPaid {
		t.Fatalf("status = %s, want PAID", got.Status)
	}
	if bal := l.balance(t, payout); !bal.Equal(dec("250")) {
		t.Fatalf("payout balance = %s, want 250", bal)
	}
}
