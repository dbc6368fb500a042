package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const testAPIKey = "internal-secret"

type testServer struct {
	handler http.Handler
	today   domain.Date
}

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewMemoryRepository()
	pub := &rabbitmq.EventProducerFallback{}
	cfg := app.EngineConfig{LockTimeout: time.Second}

	engine := app.NewEngine(repo, pub, logger, cfg)
	recurring := app.NewRecurringService(repo, engine, pub, logger, cfg)
	maturities := app.NewMaturityService(repo, engine, pub, logger, cfg)
	jobs := app.NewJobs(recurring, maturities, nil, time.UTC, logger)

	today := domain.NewDate(2024, time.March, 1)
	handler := LedgerRoutes(Handlers{
		Ledger:     NewLedgerHandlers(engine, logger),
		Recurring:  NewRecurringHandlers(recurring, engine, func() domain.Date { return today }, logger),
		Maturities: NewMaturityHandlers(maturities, engine, logger),
		Internal:   NewInternalHandlers(jobs, logger),
	}, RouterConfig{JWTSecret: jwtSecret, InternalAPIKey: testAPIKey, RateLimitPerMinute: 10000})
	return &testServer{handler: handler, today: today}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeBody(t, rr, &body)
	return body.Error.Code
}

func (s *testServer) openAccount(t *testing.T, user, number, initial string) domain.Account {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/accounts", user, map[string]string{
		"bank_code":       "058",
		"account_number":  number,
		"initial_deposit": initial,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("open account: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var acct domain.Account
	decodeBody(t, rr, &acct)
	return acct
}

func assertBalance(t *testing.T, acct domain.Account, want string) {
	t.Helper()
	if !acct.Balance.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("expected balance %s, got %s", want, acct.Balance)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	rr := s.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "healthy" {
		t.Fatalf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, "")
	rr := s.do(t, http.MethodGet, "/accounts", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user_jwt",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rr.Code, rr.Body.String())
	}

	// The header fallback is disabled once a secret is configured.
	rr = s.do(t, http.MethodGet, "/accounts", "user_jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+signed+"x")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with tampered token, got %d", rr.Code)
	}
}

func TestDepositWithdrawTransferFlow(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000001", "100.00")
	b := s.openAccount(t, "bob", "1000000002", "50.00")

	rr := s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/transfer/"+b.ID.String(), "alice",
		map[string]string{"amount": "30.00", "description": "rent"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var tx domain.Transaction
	decodeBody(t, rr, &tx)
	if tx.Type != domain.TransactionTypeTransfer || tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	rr = s.do(t, http.MethodGet, "/accounts/"+a.ID.String(), "alice", nil)
	var got domain.Account
	decodeBody(t, rr, &got)
	assertBalance(t, got, "70.00")

	rr = s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/withdraw", "alice", map[string]string{"amount": "500.00"})
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != string(domain.KindInsufficientBalance) {
		t.Fatalf("expected 400 INSUFFICIENT_BALANCE, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/accounts/"+a.ID.String()+"/transactions?limit=10", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list transactions: expected 200, got %d", rr.Code)
	}
	var txs []domain.Transaction
	decodeBody(t, rr, &txs)
	// Initial deposit plus the transfer; the rejected withdrawal leaves no record.
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
}

func TestValidationAndErrorMapping(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000011", "10.00")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{"non-numeric amount", http.MethodPost, "/accounts/" + a.ID.String() + "/deposit", "alice", map[string]string{"amount": "ten"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"zero amount", http.MethodPost, "/accounts/" + a.ID.String() + "/deposit", "alice", map[string]string{"amount": "0"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"three decimals", http.MethodPost, "/accounts/" + a.ID.String() + "/deposit", "alice", map[string]string{"amount": "1.005"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad id", http.MethodGet, "/accounts/not-a-uuid", "alice", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"other owner", http.MethodGet, "/accounts/" + a.ID.String(), "mallory", nil, http.StatusNotFound, "NOT_FOUND"},
		{"self transfer", http.MethodPost, "/accounts/" + a.ID.String() + "/transfer/" + a.ID.String(), "alice", map[string]string{"amount": "1.00"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"duplicate number", http.MethodPost, "/accounts", "alice", map[string]string{"bank_code": "058", "account_number": "1000000011"}, http.StatusConflict, "CONFLICT"},
		{"signed account number", http.MethodPost, "/accounts", "alice", map[string]string{"bank_code": "058", "account_number": "-1234567"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"fractional account number", http.MethodPost, "/accounts", "alice", map[string]string{"bank_code": "058", "account_number": "12.3456"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"close with balance", http.MethodPost, "/accounts/" + a.ID.String() + "/close", "alice", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, tt.user, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestClosedAccountRejectsDeposit(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000021", "")

	rr := s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/close", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/deposit", "alice", map[string]string{"amount": "5.00"})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != string(domain.KindAccountNotActive) {
		t.Fatalf("expected 409 ACCOUNT_NOT_ACTIVE, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestReverseTransaction(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000031", "100.00")
	b := s.openAccount(t, "alice", "1000000032", "")

	rr := s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/transfer/"+b.ID.String(), "alice", map[string]string{"amount": "40.00"})
	var tx domain.Transaction
	decodeBody(t, rr, &tx)

	rr = s.do(t, http.MethodPost, "/transactions/"+tx.ID.String()+"/reverse", "mallory", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-owner, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/transactions/"+tx.ID.String()+"/reverse", "alice", map[string]string{"description": "refund"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("reverse: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPost, "/transactions/"+tx.ID.String()+"/reverse", "alice", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second reversal: expected 409, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/accounts/"+a.ID.String(), "alice", nil)
	var got domain.Account
	decodeBody(t, rr, &got)
	assertBalance(t, got, "100.00")
}

func TestSenderCannotReverseTransferToAnotherOwner(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000033", "100.00")
	b := s.openAccount(t, "bob", "1000000034", "")

	rr := s.do(t, http.MethodPost, "/accounts/"+a.ID.String()+"/transfer/"+b.ID.String(), "alice", map[string]string{"amount": "40.00"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var tx domain.Transaction
	decodeBody(t, rr, &tx)

	rr = s.do(t, http.MethodPost, "/transactions/"+tx.ID.String()+"/reverse", "alice", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("sender reversal: expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodGet, "/accounts/"+b.ID.String(), "bob", nil)
	var got domain.Account
	decodeBody(t, rr, &got)
	assertBalance(t, got, "40.00")

	// The recipient may send the money back.
	rr = s.do(t, http.MethodPost, "/transactions/"+tx.ID.String()+"/reverse", "bob", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("recipient reversal: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodGet, "/accounts/"+a.ID.String(), "alice", nil)
	decodeBody(t, rr, &got)
	assertBalance(t, got, "100.00")
}

func TestRecurringTransferLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000041", "100.00")
	b := s.openAccount(t, "bob", "1000000042", "")

	rr := s.do(t, http.MethodPost, "/recurring-transfers", "alice", map[string]interface{}{
		"source_account_id":      a.ID.String(),
		"destination_account_id": b.ID.String(),
		"amount":                 "25.00",
		"frequency":              "MONTHLY",
		"start_date":             "2024-01-31",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rule domain.RecurringTransferRule
	decodeBody(t, rr, &rule)
	if rule.NextExecutionDate.String() != "2024-01-31" {
		t.Fatalf("expected first execution 2024-01-31, got %s", rule.NextExecutionDate)
	}

	rr = s.do(t, http.MethodGet, "/recurring-transfers/"+rule.ID.String(), "bob", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-owner, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPatch, "/recurring-transfers/"+rule.ID.String(), "alice", map[string]string{"amount": "20.00"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPost, "/recurring-transfers/"+rule.ID.String()+"/pause", "alice", nil)
	decodeBody(t, rr, &rule)
	if rr.Code != http.StatusOK || rule.Status != domain.RuleStatusPaused {
		t.Fatalf("pause: got %d status %s", rr.Code, rule.Status)
	}
	rr = s.do(t, http.MethodPost, "/recurring-transfers/"+rule.ID.String()+"/pause", "alice", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("pausing a paused rule: expected 409, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/recurring-transfers/"+rule.ID.String()+"/resume", "alice", nil)
	decodeBody(t, rr, &rule)
	if rr.Code != http.StatusOK || rule.Status != domain.RuleStatusActive {
		t.Fatalf("resume: got %d status %s", rr.Code, rule.Status)
	}
	// Resumed on 2024-03-01, the next occurrence anchored to day 31 is March 31.
	if rule.NextExecutionDate.String() != "2024-03-31" {
		t.Fatalf("expected next execution 2024-03-31 after resume, got %s", rule.NextExecutionDate)
	}

	rr = s.do(t, http.MethodDelete, "/recurring-transfers/"+rule.ID.String(), "alice", nil)
	decodeBody(t, rr, &rule)
	if rr.Code != http.StatusOK || rule.Status != domain.RuleStatusCancelled {
		t.Fatalf("cancel: got %d status %s", rr.Code, rule.Status)
	}
}

func TestCreateRecurringTransferValidation(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000051", "")
	b := s.openAccount(t, "bob", "1000000052", "")

	base := func() map[string]interface{} {
		return map[string]interface{}{
			"source_account_id":      a.ID.String(),
			"destination_account_id": b.ID.String(),
			"amount":                 "5.00",
			"frequency":              "WEEKLY",
			"start_date":             "2024-03-04",
		}
	}

	tests := []struct {
		name   string
		user   string
		mutate func(map[string]interface{})
		status int
	}{
		{"unknown frequency", "alice", func(m map[string]interface{}) { m["frequency"] = "YEARLY" }, http.StatusBadRequest},
		{"same accounts", "alice", func(m map[string]interface{}) { m["destination_account_id"] = a.ID.String() }, http.StatusBadRequest},
		{"bad date", "alice", func(m map[string]interface{}) { m["start_date"] = "04/03/2024" }, http.StatusBadRequest},
		{"end before start", "alice", func(m map[string]interface{}) { m["end_date"] = "2024-03-01" }, http.StatusBadRequest},
		{"day of week out of range", "alice", func(m map[string]interface{}) { m["day_of_week"] = 7 }, http.StatusBadRequest},
		{"source owned by someone else", "bob", func(map[string]interface{}) {}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := base()
			tt.mutate(body)
			rr := s.do(t, http.MethodPost, "/recurring-transfers", tt.user, body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestInternalTickExecutesDueRules(t *testing.T) {
	s := newTestServer(t, "")
	a := s.openAccount(t, "alice", "1000000061", "100.00")
	b := s.openAccount(t, "bob", "1000000062", "")

	rr := s.do(t, http.MethodPost, "/recurring-transfers", "alice", map[string]interface{}{
		"source_account_id":      a.ID.String(),
		"destination_account_id": b.ID.String(),
		"amount":                 "10.00",
		"frequency":              "DAILY",
		"start_date":             "2024-03-01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", rr.Code, rr.Body.String())
	}

	// Missing key.
	rr = s.do(t, http.MethodPost, "/internal/scheduler/recurring/tick", "", map[string]string{"date": "2024-03-01"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without internal key, got %d", rr.Code)
	}

	tick := func() app.TickReport {
		t.Helper()
		raw, _ := json.Marshal(map[string]string{"date": "2024-03-01"})
		req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/recurring/tick", bytes.NewReader(raw))
		req.Header.Set("X-Internal-API-Key", testAPIKey)
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("tick: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var report app.TickReport
		decodeBody(t, rr, &report)
		return report
	}

	if report := tick(); report.Executed != 1 || report.Failed != 0 {
		t.Fatalf("unexpected first tick report %+v", report)
	}
	// The rule advanced to 2024-03-02, so a second tick for the same day does nothing.
	if report := tick(); report.Executed != 0 || report.Due != 0 {
		t.Fatalf("unexpected second tick report %+v", report)
	}

	rr = s.do(t, http.MethodGet, "/accounts/"+b.ID.String(), "bob", nil)
	var got domain.Account
	decodeBody(t, rr, &got)
	assertBalance(t, got, "10.00")
}

func TestProductMaturityPayout(t *testing.T) {
	s := newTestServer(t, "")
	product := s.openAccount(t, "alice", "1000000071", "250.00")
	payout := s.openAccount(t, "alice", "1000000072", "")

	rr := s.do(t, http.MethodPost, "/product-maturities", "alice", map[string]string{
		"product_account_id": product.ID.String(),
		"payout_account_id":  payout.ID.String(),
		"maturity_date":      "2024-03-01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create maturity: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var m domain.ProductMaturity
	decodeBody(t, rr, &m)

	req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/maturities/run", bytes.NewReader([]byte(`{"date":"2024-03-01"}`)))
	req.Header.Set("X-Internal-API-Key", testAPIKey)
	run := httptest.NewRecorder()
	s.handler.ServeHTTP(run, req)
	if run.Code != http.StatusOK {
		t.Fatalf("run maturities: expected 200, got %d: %s", run.Code, run.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/product-maturities/"+m.ID.String(), "alice", nil)
	decodeBody(t, rr, &m)
	if m.Status != domain.MaturityStatusPaid || m.PaidTransactionID == nil {
		t.Fatalf("expected PAID maturity with transaction, got %+v", m)
	}

	rr = s.do(t, http.MethodGet, "/accounts/"+payout.ID.String(), "alice", nil)
	var got domain.Account
	decodeBody(t, rr, &got)
	assertBalance(t, got, "250.00")

	rr = s.do(t, http.MethodGet, "/accounts/"+product.ID.String(), "alice", nil)
	decodeBody(t, rr, &got)
	if got.Status != domain.AccountStatusClosed {
		t.Fatalf("expected product account closed, got %s", got.Status)
	}
}

func TestInternalRoutesDisabledWithoutKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := LedgerRoutes(Handlers{
		Ledger:     NewLedgerHandlers(nil, logger),
		Recurring:  NewRecurringHandlers(nil, nil, nil, logger),
		Maturities: NewMaturityHandlers(nil, nil, logger),
		Internal:   NewInternalHandlers(nil, logger),
	}, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/recurring/tick", http.NoBody)
	req.Header.Set("X-Internal-API-Key", "")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

// partialOpenLedger opens accounts whose initial deposit always fails.
type partialOpenLedger struct {
	LedgerService
}

func (partialOpenLedger) OpenAccount(ctx context.Context, p app.OpenAccountParams) (*domain.Account, error) {
	acct, err := domain.NewAccount(p.OwnerID, p.BankCode, p.AccountNumber, p.Name, time.Now())
	if err != nil {
		return nil, err
	}
	return acct, fmt.Errorf("account %s opened but initial deposit failed: %w", acct.ID, app.ErrLockTimeout)
}

func TestOpenAccountReportsFailedInitialDeposit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := LedgerRoutes(Handlers{
		Ledger:     NewLedgerHandlers(partialOpenLedger{}, logger),
		Recurring:  NewRecurringHandlers(nil, nil, nil, logger),
		Maturities: NewMaturityHandlers(nil, nil, logger),
		Internal:   NewInternalHandlers(nil, logger),
	}, RouterConfig{})

	raw, _ := json.Marshal(map[string]string{"bank_code": "058", "account_number": "1000000081", "initial_deposit": "50.00"})
	req := httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewReader(raw))
	req.Header.Set(UserIDHeader, "alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for an opened account, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		ID                  string       `json:"id"`
		Status              string       `json:"status"`
		InitialDepositError *errorDetail `json:"initial_deposit_error"`
	}
	decodeBody(t, rr, &body)
	if body.ID == "" || body.Status != string(domain.AccountStatusActive) {
		t.Fatalf("expected the opened account in the body, got %s", rr.Body.String())
	}
	if body.InitialDepositError == nil || body.InitialDepositError.Code != string(domain.KindConflict) {
		t.Fatalf("expected initial_deposit_error with CONFLICT, got %s", rr.Body.String())
	}
}
