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

const maturityPayoutDescription = "Product maturity payout"

// MaturityService schedules and pays out product maturities.
type MaturityService struct {
	maturities  store.MaturityRegistry
	engine      TransferExecutor
	locks       *KeyedLocker
	lockTimeout time.Duration
	events      *eventEmitter
	logger      *slog.Logger
	now         func() time.Time
}

func NewMaturityService(maturities store.MaturityRegistry, engine TransferExecutor, publisher EventPublisher, logger *slog.Logger, cfg EngineConfig) *MaturityService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	return &MaturityService{
		maturities:  maturities,
		engine:      engine,
		locks:       NewKeyedLocker(),
		lockTimeout: cfg.LockTimeout,
		events:      newEventEmitter(publisher, cfg.EventsExchange, logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MaturityService) CreateMaturity(ctx context.Context, ownerID string, productAccountID, payoutAccountID uuid.UUID, maturityDate domain.Date) (*domain.ProductMaturity, error) {
	m, err := domain.NewProductMaturity(ownerID, productAccountID, payoutAccountID, maturityDate, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{productAccountID, payoutAccountID} {
		acct, err := s.engine.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !acct.IsActive() {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotActive, id)
		}
	}
	if err := s.maturities.CreateMaturity(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("product maturity scheduled", "maturity_id", m.ID, "product_account_id", productAccountID, "maturity_date", maturityDate.String())
	return m, nil
}

func (s *MaturityService) GetMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error) {
	return s.maturities.GetMaturity(ctx, id)
}

func (s *MaturityService) ListMaturities(ctx context.Context, ownerID string) ([]domain.ProductMaturity, error) {
	return s.maturities.ListMaturitiesByOwner(ctx, ownerID)
}

func (s *MaturityService) CancelMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error) {
	release, err := s.locks.Acquire(ctx, s.lockTimeout, id)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := s.maturities.GetMaturity(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.maturities.SaveMaturity(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ProcessDueMaturities pays out every pending maturity dated on or before today.
func (s *MaturityService) ProcessDueMaturities(ctx context.Context, today domain.Date) (TickReport, error) {
	report := TickReport{Job: JobMaturityPayouts, Date: today}

	due, err := s.maturities.FindDueMaturities(ctx, today)
	if err != nil {
		return report, fmt.Errorf("find due maturities: %w", err)
	}
	report.Due = len(due)
	if len(due) == 0 {
		s.logger.Info("no product maturities due", "date", today.String())
		return report, nil
	}
	s.logger.Info("found product maturities to process", "date", today.String(), "count", len(due))

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, reason := s.payout(ctx, candidate.ID, today)
		ruleExecutionsTotal.WithLabelValues(JobMaturityPayouts, string(outcome)).Inc()
		report.record(candidate.ID, outcome, reason)
	}
	return report, nil
}

// payout moves the product balance to the payout account, closes the product
// account and marks the maturity paid. Any failure leaves it PENDING; a rerun
// picks up where the previous attempt stopped.
func (s *MaturityService) payout(ctx context.Context, id uuid.UUID, today domain.Date) (itemOutcome, string) {
	logger := s.logger.With("maturity_id", id)

	release, err := s.locks.Acquire(ctx, s.lockTimeout, id)
	if err != nil {
		return outcomeFailed, err.Error()
	}
	defer release()

	m, err := s.maturities.GetMaturity(ctx, id)
	if err != nil {
		logger.Error("failed to reload product maturity", "error", err)
		return outcomeFailed, err.Error()
	}
	if !m.IsDue(today) {
		return outcomeSkipped, ""
	}

	fail := func(err error) (itemOutcome, string) {
		m.RecordFailure(err.Error(), s.now())
		if saveErr := s.maturities.SaveMaturity(context.WithoutCancel(ctx), m); saveErr != nil {
			logger.Error("failed to record maturity failure", "error", saveErr)
		}
		logger.Warn("product maturity payout failed; will retry next run", "kind", domain.KindOf(err), "error", err)
		return outcomeFailed, err.Error()
	}

	product, err := s.engine.GetAccount(ctx, m.ProductAccountID)
	if err != nil {
		return fail(err)
	}

	var (
		txID   *uuid.UUID
		amount = decimal.Zero
	)
	if product.IsActive() {
		if product.Balance.IsPositive() {
			amount = product.Balance
			tx, err := s.engine.Transfer(ctx, product.ID, m.PayoutAccountID, amount, maturityPayoutDescription)
			if err != nil {
				return fail(err)
			}
			txID = &tx.ID
			// Money has moved; finish closing and bookkeeping regardless of
			// the caller's cancellation.
			ctx = context.WithoutCancel(ctx)
		}
		if _, err := s.engine.CloseAccount(ctx, product.ID); err != nil {
			return fail(err)
		}
	}

	if err := m.MarkPaid(txID, s.now()); err != nil {
		return fail(err)
	}
	if err := s.maturities.SaveMaturity(ctx, m); err != nil {
		logger.Error("maturity paid out but not marked paid", "error", err)
		return outcomeFailed, err.Error()
	}

	s.events.emit(ctx, EventMaturityPaid, maturityEventPayload{
		MaturityID:       m.ID,
		OwnerID:          m.OwnerID,
		ProductAccountID: m.ProductAccountID,
		PayoutAccountID:  m.PayoutAccountID,
		MaturityDate:     m.MaturityDate,
		Amount:           amount,
		TransactionID:    txID,
	})
	logger.Info("product maturity paid", "amount", amount.StringFixed(domain.AmountScale))
	return outcomePaid, ""
}
