package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// RecurringTransferService manages standing orders on behalf of their owners.
type RecurringTransferService interface {
	CreateRule(ctx context.Context, p domain.NewRecurringTransferRuleParams) (*domain.RecurringTransferRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error)
	ListRules(ctx context.Context, ownerID string) ([]domain.RecurringTransferRule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, update domain.RuleUpdate) (*domain.RecurringTransferRule, error)
	PauseRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error)
	ResumeRule(ctx context.Context, id uuid.UUID, today domain.Date) (*domain.RecurringTransferRule, error)
	CancelRule(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error)
}

type RecurringHandlers struct {
	rules  RecurringTransferService
	ledger LedgerService
	today  func() domain.Date
	logger *slog.Logger
}

// NewRecurringHandlers builds the standing order handlers. today supplies the
// scheduler's calendar date for resume.
func NewRecurringHandlers(rules RecurringTransferService, ledger LedgerService, today func() domain.Date, logger *slog.Logger) *RecurringHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if today == nil {
		today = func() domain.Date { return domain.Today(time.UTC) }
	}
	return &RecurringHandlers{rules: rules, ledger: ledger, today: today, logger: logger}
}

func (h *RecurringHandlers) ownedRule(w http.ResponseWriter, r *http.Request, endpoint, owner string) (*domain.RecurringTransferRule, bool) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return nil, false
	}
	rule, err := h.rules.GetRule(r.Context(), id)
	if err == nil && rule.OwnerID != owner {
		err = domain.ErrRuleNotFound
	}
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return nil, false
	}
	return rule, true
}

func (h *RecurringHandlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.CreateRecurringTransferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	params, err := ruleParamsFromRequest(owner, req)
	if err != nil {
		writeDomainError(w, h.logger, "create_recurring_transfer", err)
		return
	}
	// The source account must belong to the caller.
	source, err := h.ledger.GetAccount(r.Context(), params.SourceAccountID)
	if err == nil && source.OwnerID != owner {
		err = domain.ErrAccountNotFound
	}
	if err != nil {
		writeDomainError(w, h.logger, "create_recurring_transfer", err)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), params)
	if err != nil {
		writeDomainError(w, h.logger, "create_recurring_transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func ruleParamsFromRequest(owner string, req domain.CreateRecurringTransferRequest) (domain.NewRecurringTransferRuleParams, error) {
	var p domain.NewRecurringTransferRuleParams
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return p, err
	}
	start, err := domain.ParseDate(req.StartDate)
	if err != nil {
		return p, err
	}
	var end domain.Date
	if req.EndDate != "" {
		if end, err = domain.ParseDate(req.EndDate); err != nil {
			return p, err
		}
	}

	p = domain.NewRecurringTransferRuleParams{
		OwnerID:              owner,
		SourceAccountID:      uuid.MustParse(req.SourceAccountID),
		DestinationAccountID: uuid.MustParse(req.DestinationAccountID),
		Amount:               amount,
		Description:          req.Description,
		Frequency:            domain.Frequency(req.Frequency),
		DayOfMonth:           req.DayOfMonth,
		StartDate:            start,
		EndDate:              end,
	}
	if req.DayOfWeek != nil {
		wd := time.Weekday(*req.DayOfWeek)
		p.DayOfWeek = &wd
	}
	return p, nil
}

func (h *RecurringHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	rules, err := h.rules.ListRules(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.logger, "list_recurring_transfers", err)
		return
	}
	if rules == nil {
		rules = []domain.RecurringTransferRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *RecurringHandlers) GetRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	rule, ok := h.ownedRule(w, r, "get_recurring_transfer", owner)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RecurringHandlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.UpdateRecurringTransferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	update := domain.RuleUpdate{Description: req.Description, ClearEndDate: req.ClearEndDate}
	if req.Amount != nil {
		amount, err := domain.ParseAmount(*req.Amount)
		if err != nil {
			writeDomainError(w, h.logger, "update_recurring_transfer", err)
			return
		}
		update.Amount = &amount
	}
	if req.EndDate != nil {
		end, err := domain.ParseDate(*req.EndDate)
		if err != nil {
			writeDomainError(w, h.logger, "update_recurring_transfer", err)
			return
		}
		update.EndDate = &end
	}

	rule, ok := h.ownedRule(w, r, "update_recurring_transfer", owner)
	if !ok {
		return
	}
	updated, err := h.rules.UpdateRule(r.Context(), rule.ID, update)
	if err != nil {
		writeDomainError(w, h.logger, "update_recurring_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *RecurringHandlers) PauseRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause_recurring_transfer", h.rules.PauseRule)
}

func (h *RecurringHandlers) ResumeRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume_recurring_transfer", func(ctx context.Context, id uuid.UUID) (*domain.RecurringTransferRule, error) {
		return h.rules.ResumeRule(ctx, id, h.today())
	})
}

func (h *RecurringHandlers) CancelRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel_recurring_transfer", h.rules.CancelRule)
}

func (h *RecurringHandlers) transition(w http.ResponseWriter, r *http.Request, endpoint string, apply func(context.Context, uuid.UUID) (*domain.RecurringTransferRule, error)) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}
	rule, ok := h.ownedRule(w, r, endpoint, owner)
	if !ok {
		return
	}
	updated, err := apply(r.Context(), rule.ID)
	if err != nil {
		writeDomainError(w, h.logger, endpoint, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
