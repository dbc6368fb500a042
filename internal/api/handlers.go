/**
 * @description
 * HTTP handlers for accounts and transactions. Handlers parse and validate the
 * request, enforce ownership and delegate to the transfer engine.
 *
 * Resources owned by another caller are reported as not found.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
)

// LedgerService is the subset of the transfer engine used by the API.
type LedgerService interface {
	OpenAccount(ctx context.Context, p app.OpenAccountParams) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
	Transfer(ctx context.Context, sourceID, destID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
	CloseAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ReverseTransaction(ctx context.Context, txID uuid.UUID, description string) (*domain.Transaction, error)
}

// openAccountResponse is the opened account, plus the reason its initial
// deposit failed when it did.
type openAccountResponse struct {
	*domain.Account
	InitialDepositError *errorDetail `json:"initial_deposit_error,omitempty"`
}

// LedgerHandlers serves the account and transaction endpoints.
type LedgerHandlers struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewLedgerHandlers(ledger LedgerService, logger *slog.Logger) *LedgerHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerHandlers{ledger: ledger, logger: logger}
}

// decodeAndValidate reads a JSON body into dst and validates it. An empty body
// is accepted for requests whose fields are all optional.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidInput), "invalid request body")
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidInput), err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindInvalidInput), fmt.Sprintf("invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "caller not identified")
		return "", false
	}
	return userID, true
}

// ownedAccount loads an account and checks the caller owns it.
func (h *LedgerHandlers) ownedAccount(w http.ResponseWriter, r *http.Request, endpoint, owner string, id uuid.UUID) (*domain.Account, bool) {
	acct, err := h.ledger.GetAccount(r.Context(), id)
	if err == nil && acct.OwnerID != owner {
		err = domain.ErrAccountNotFound
	}
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return nil, false
	}
	return acct, true
}

// ownsTransaction reports whether the caller owns an account the transaction touches.
func (h *LedgerHandlers) ownsTransaction(ctx context.Context, owner string, tx *domain.Transaction) bool {
	for _, id := range []*uuid.UUID{tx.SourceAccountID, tx.DestinationAccountID} {
		if id == nil {
			continue
		}
		acct, err := h.ledger.GetAccount(ctx, *id)
		if err == nil && acct.OwnerID == owner {
			return true
		}
	}
	return false
}

// reversalDebitAccount is the account a reversal of tx takes money from.
func reversalDebitAccount(tx *domain.Transaction) *uuid.UUID {
	if tx.Type == domain.TransactionTypeWithdrawal {
		return tx.SourceAccountID
	}
	return tx.DestinationAccountID
}

func (h *LedgerHandlers) OpenAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.OpenAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	initial := decimal.Zero
	if req.InitialDeposit != "" {
		amount, err := decimal.NewFromString(req.InitialDeposit)
		if err != nil {
			writeDomainError(w, h.logger, "open_account", fmt.Errorf("%w: initial_deposit", domain.ErrInvalidAmount))
			return
		}
		initial = amount
	}

	acct, err := h.ledger.OpenAccount(r.Context(), app.OpenAccountParams{
		OwnerID:        owner,
		BankCode:       req.BankCode,
		AccountNumber:  req.AccountNumber,
		Name:           req.Name,
		InitialDeposit: initial,
	})
	if err != nil && acct != nil {
		// Opened, but the initial deposit did not go through.
		h.logger.Warn("account opened without initial deposit", "account_id", acct.ID, "error", err)
		detail := &errorDetail{Code: string(domain.KindOf(err)), Message: err.Error()}
		if domain.KindOf(err) == domain.KindInternal {
			detail.Message = "internal error"
		}
		writeJSON(w, http.StatusCreated, openAccountResponse{Account: acct, InitialDepositError: detail})
		return
	}
	if err != nil {
		writeDomainError(w, h.logger, "open_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, openAccountResponse{Account: acct})
}

func (h *LedgerHandlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	accounts, err := h.ledger.ListAccounts(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.logger, "list_accounts", err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *LedgerHandlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	acct, ok := h.ownedAccount(w, r, "get_account", owner, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *LedgerHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedAccount(w, r, "list_transactions", owner, id); !ok {
		return
	}

	limit, offset := 0, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(domain.KindInvalidInput), "invalid limit")
			return
		}
		limit = v
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(domain.KindInvalidInput), "invalid offset")
			return
		}
		offset = v
	}

	txs, err := h.ledger.ListTransactions(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, h.logger, "list_transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// parseAmountRequest decodes an amount body. Range and scale checks are left
// to the engine so every entry point reports them the same way.
func (h *LedgerHandlers) parseAmountRequest(w http.ResponseWriter, r *http.Request, endpoint string) (decimal.Decimal, string, bool) {
	var req domain.AmountRequest
	if !decodeAndValidate(w, r, &req) {
		return decimal.Zero, "", false
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return decimal.Zero, "", false
	}
	return amount, req.Description, true
}

func (h *LedgerHandlers) Deposit(w http.ResponseWriter, r *http.Request) {
	h.singleAccountMovement(w, r, "deposit", h.ledger.Deposit)
}

func (h *LedgerHandlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.singleAccountMovement(w, r, "withdraw", h.ledger.Withdraw)
}

type movementFunc func(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)

func (h *LedgerHandlers) singleAccountMovement(w http.ResponseWriter, r *http.Request, endpoint string, move movementFunc) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	amount, description, ok := h.parseAmountRequest(w, r, endpoint)
	if !ok {
		return
	}
	if _, ok := h.ownedAccount(w, r, endpoint, owner, id); !ok {
		return
	}
	tx, err := move(r.Context(), id, amount, description)
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Transfer moves funds out of an account the caller owns into any account.
func (h *LedgerHandlers) Transfer(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	fromID, ok := pathUUID(w, r, "fromId")
	if !ok {
		return
	}
	toID, ok := pathUUID(w, r, "toId")
	if !ok {
		return
	}
	amount, description, ok := h.parseAmountRequest(w, r, "transfer")
	if !ok {
		return
	}
	if _, ok := h.ownedAccount(w, r, "transfer", owner, fromID); !ok {
		return
	}
	tx, err := h.ledger.Transfer(r.Context(), fromID, toID, amount, description)
	if err != nil {
		writeDomainError(w, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *LedgerHandlers) CloseAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.ownedAccount(w, r, "close_account", owner, id); !ok {
		return
	}
	acct, err := h.ledger.CloseAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, "close_account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *LedgerHandlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	tx, err := h.ledger.GetTransaction(r.Context(), id)
	if err == nil && !h.ownsTransaction(r.Context(), owner, tx) {
		err = domain.ErrTransactionNotFound
	}
	if err != nil {
		writeDomainError(w, h.logger, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *LedgerHandlers) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ReverseTransactionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	// Only the owner of the account being debited may reverse; a sender cannot
	// pull funds back out of the recipient's account.
	original, err := h.ledger.GetTransaction(r.Context(), id)
	if err == nil {
		debited := reversalDebitAccount(original)
		if debited == nil {
			err = domain.ErrTransactionNotFound
		} else {
			acct, getErr := h.ledger.GetAccount(r.Context(), *debited)
			if getErr != nil || acct.OwnerID != owner {
				err = domain.ErrTransactionNotFound
			}
		}
	}
	if err != nil {
		writeDomainError(w, h.logger, "reverse_transaction", err)
		return
	}
	tx, err := h.ledger.ReverseTransaction(r.Context(), id, req.Description)
	if err != nil {
		writeDomainError(w, h.logger, "reverse_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}
