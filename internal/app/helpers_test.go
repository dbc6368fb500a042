package app

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingPublisher captures published envelopes.
type recordingPublisher struct {
	mu     sync.Mutex
	events []rabbitmq.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, _ string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if env, ok := body.(rabbitmq.Envelope); ok {
		p.events = append(p.events, env)
	}
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testLedger struct {
	repo      *store.MemoryRepository
	engine    *Engine
	publisher *recordingPublisher
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	repo := store.NewMemoryRepository()
	pub := &recordingPublisher{}
	engine := NewEngine(repo, pub, newTestLogger(), EngineConfig{LockTimeout: time.Second})
	return &testLedger{repo: repo, engine: engine, publisher: pub}
}

var accountSeq struct {
	sync.Mutex
	n int
}

func (l *testLedger) open(t *testing.T, balance string) *domain.Account {
	t.Helper()
	accountSeq.Lock()
	accountSeq.n++
	number := 1000000000 + accountSeq.n
	accountSeq.Unlock()

	acct, err := l.engine.OpenAccount(context.Background(), OpenAccountParams{
		OwnerID:        "user_1",
		BankCode:       "058",
		AccountNumber:  strconv.Itoa(number),
		InitialDeposit: decimal.RequireFromString(balance),
	})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	return acct
}

func (l *testLedger) balance(t *testing.T, acct *domain.Account) decimal.Decimal {
	t.Helper()
	got, err := l.repo.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return got.Balance
}

func (l *testLedger) txCount(t *testing.T, acct *domain.Account) int {
	t.Helper()
	txs, err := l.repo.ListTransactionsByAccount(context.Background(), acct.ID, store.MaxPageSize, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txs)
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
