package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// MaturityService registers and cancels product maturity payouts.
type MaturityService interface {
	CreateMaturity(ctx context.Context, ownerID string, productAccountID, payoutAccountID uuid.UUID, maturityDate domain.Date) (*domain.ProductMaturity, error)
	GetMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error)
	ListMaturities(ctx context.Context, ownerID string) ([]domain.ProductMaturity, error)
	CancelMaturity(ctx context.Context, id uuid.UUID) (*domain.ProductMaturity, error)
}

type MaturityHandlers struct {
	maturities MaturityService
	ledger     LedgerService
	logger     *slog.Logger
}

func NewMaturityHandlers(maturities MaturityService, ledger LedgerService, logger *slog.Logger) *MaturityHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaturityHandlers{maturities: maturities, ledger: ledger, logger: logger}
}

func (h *MaturityHandlers) CreateMaturity(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.CreateProductMaturityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	date, err := domain.ParseDate(req.MaturityDate)
	if err != nil {
		writeDomainError(w, h.logger, "create_product_maturity", err)
		return
	}
	productID := uuid.MustParse(req.ProductAccountID)
	payoutID := uuid.MustParse(req.PayoutAccountID)

	// Both accounts are the caller's own.
	for _, id := range []uuid.UUID{productID, payoutID} {
		acct, err := h.ledger.GetAccount(r.Context(), id)
		if err == nil && acct.OwnerID != owner {
			err = domain.ErrAccountNotFound
		}
		if err != nil {
			writeDomainError(w, h.logger, "create_product_maturity", err)
			return
		}
	}

	m, err := h.maturities.CreateMaturity(r.Context(), owner, productID, payoutID, date)
	if err != nil {
		writeDomainError(w, h.logger, "create_product_maturity", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MaturityHandlers) ListMaturities(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	list, err := h.maturities.ListMaturities(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.logger, "list_product_maturities", err)
		return
	}
	if list == nil {
		list = []domain.ProductMaturity{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *MaturityHandlers) ownedMaturity(w http.ResponseWriter, r *http.Request, endpoint, owner string) (*domain.ProductMaturity, bool) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return nil, false
	}
	m, err := h.maturities.GetMaturity(r.Context(), id)
	if err == nil && m.OwnerID != owner {
		err = domain.ErrMaturityNotFound
	}
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return nil, false
	}
	return m, true
}

func (h *MaturityHandlers) GetMaturity(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	m, ok := h.ownedMaturity(w, r, "get_product_maturity", owner)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MaturityHandlers) CancelMaturity(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	m, ok := h.ownedMaturity(w, r, "cancel_product_maturity", owner)
	if !ok {
		return
	}
	cancelled, err := h.maturities.CancelMaturity(r.Context(), m.ID)
	if err != nil {
		writeDomainError(w, h.logger, "cancel_product_maturity", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}
