package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
)

// TickRunner runs scheduler jobs on demand.
type TickRunner interface {
	Today() domain.Date
	TickRecurringTransfers(ctx context.Context, today domain.Date) (app.TickReport, error)
	RunMaturityPayouts(ctx context.Context, today domain.Date) (app.TickReport, error)
}

// InternalHandlers exposes manual scheduler triggers for operators.
type InternalHandlers struct {
	jobs   TickRunner
	logger *slog.Logger
}

func NewInternalHandlers(jobs TickRunner, logger *slog.Logger) *InternalHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalHandlers{jobs: jobs, logger: logger}
}

func (h *InternalHandlers) TickRecurringTransfers(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "tick_recurring_transfers", h.jobs.TickRecurringTransfers)
}

func (h *InternalHandlers) RunMaturityPayouts(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "run_maturity_payouts", h.jobs.RunMaturityPayouts)
}

func (h *InternalHandlers) run(w http.ResponseWriter, r *http.Request, endpoint string, job func(context.Context, domain.Date) (app.TickReport, error)) {
	var req domain.TriggerTickRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	today := h.jobs.Today()
	if req.Date != "" {
		d, err := domain.ParseDate(req.Date)
		if err != nil {
			writeDomainError(w, h.logger, endpoint, err)
			return
		}
		today = d
	}

	// A tick commits money movement item by item; a client disconnect must not
	// stop it halfway through.
	report, err := job(context.WithoutCancel(r.Context()), today)
	switch {
	case errors.Is(err, app.ErrTickInProgress), errors.Is(err, app.ErrTickLockHeld), errors.Is(err, app.ErrTickLockLost):
		writeError(w, http.StatusConflict, string(domain.KindConflict), err.Error())
		return
	case err != nil:
		writeDomainError(w, h.logger, endpoint, err)
		return
	}
	h.logger.Info("manual tick completed", "endpoint", endpoint, "date", today.String(), "executed", report.Executed, "failed", report.Failed)
	writeJSON(w, http.StatusOK, report)
}
