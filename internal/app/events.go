package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// Routing keys on the ledger events exchange.
const (
	EventTransactionCompleted = "ledger.transaction.completed"
	EventAccountOpened        = "ledger.account.opened"
	EventAccountClosed        = "ledger.account.closed"
	EventRecurringExecuted    = "recurring_transfer.executed"
	EventRecurringFailed      = "recurring_transfer.failed"
	EventRecurringExpired     = "recurring_transfer.expired"
	EventMaturityPaid         = "product_maturity.paid"
)

const publishTimeout = 5 * time.Second

// EventPublisher is satisfied by rabbitmq.EventProducer and its fallback.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// eventEmitter publishes after the fact. Failures are logged and never
// propagate to the operation that produced the event.
type eventEmitter struct {
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
}

func newEventEmitter(publisher EventPublisher, exchange string, logger *slog.Logger) *eventEmitter {
	if exchange == "" {
		exchange = "ledger_events"
	}
	return &eventEmitter{publisher: publisher, exchange: exchange, logger: logger}
}

func (e *eventEmitter) emit(ctx context.Context, routingKey string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	env, err := rabbitmq.NewEnvelope(routingKey, payload, time.Now())
	if err != nil {
		e.logger.Error("failed to build ledger event", "routing_key", routingKey, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, e.exchange, routingKey, env); err != nil {
		e.logger.Warn("failed to publish ledger event", "routing_key", routingKey, "event_id", env.ID, "error", err)
	}
}

type accountEventPayload struct {
	AccountID     uuid.UUID            `json:"account_id"`
	OwnerID       string               `json:"owner_id"`
	BankCode      string               `json:"bank_code"`
	AccountNumber string               `json:"account_number"`
	Status        domain.AccountStatus `json:"status"`
}

func newAccountEvent(a *domain.Account) accountEventPayload {
	return accountEventPayload{
		AccountID:     a.ID,
		OwnerID:       a.OwnerID,
		BankCode:      a.BankCode,
		AccountNumber: a.AccountNumber,
		Status:        a.Status,
	}
}

type ruleEventPayload struct {
	RuleID            uuid.UUID         `json:"rule_id"`
	OwnerID           string            `json:"owner_id"`
	ExecutionDate     domain.Date       `json:"execution_date"`
	Amount            decimal.Decimal   `json:"amount"`
	TransactionID     *uuid.UUID        `json:"transaction_id,omitempty"`
	NextExecutionDate domain.Date       `json:"next_execution_date"`
	Status            domain.RuleStatus `json:"status"`
	FailureCount      int               `json:"failure_count,omitempty"`
	Reason            string            `json:"reason,omitempty"`
}

type maturityEventPayload struct {
	MaturityID       uuid.UUID       `json:"maturity_id"`
	OwnerID          string          `json:"owner_id"`
	ProductAccountID uuid.UUID       `json:"product_account_id"`
	PayoutAccountID  uuid.UUID       `json:"payout_account_id"`
	MaturityDate     domain.Date     `json:"maturity_date"`
	Amount           decimal.Decimal `json:"amount"`
	TransactionID    *uuid.UUID      `json:"transaction_id,omitempty"`
}
