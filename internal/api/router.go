/**
 * @description
 * HTTP router for the ledger service. Public routes sit behind caller
 * authentication; mutating routes are rate limited per client IP; scheduler
 * triggers live under /internal behind the internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS policy.
 * - github.com/go-chi/httprate: per-IP rate limiting.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the HTTP-facing settings.
type RouterConfig struct {
	JWTSecret          string
	InternalAPIKey     string
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// Handlers groups every handler set served by the router.
type Handlers struct {
	Ledger     *LedgerHandlers
	Recurring  *RecurringHandlers
	Maturities *MaturityHandlers
	Internal   *InternalHandlers
}

// LedgerRoutes creates the router for the ledger service.
func LedgerRoutes(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", UserIDHeader, "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	limit := cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = 120
	}
	rateLimited := httprate.LimitByIP(limit, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/accounts", h.Ledger.ListAccounts)
		r.Get("/accounts/{id}", h.Ledger.GetAccount)
		r.Get("/accounts/{id}/transactions", h.Ledger.ListTransactions)
		r.Get("/transactions/{id}", h.Ledger.GetTransaction)
		r.Get("/recurring-transfers", h.Recurring.ListRules)
		r.Get("/recurring-transfers/{id}", h.Recurring.GetRule)
		r.Get("/product-maturities", h.Maturities.ListMaturities)
		r.Get("/product-maturities/{id}", h.Maturities.GetMaturity)

		r.Group(func(r chi.Router) {
			r.Use(rateLimited)

			r.Post("/accounts", h.Ledger.OpenAccount)
			r.Post("/accounts/{id}/deposit", h.Ledger.Deposit)
			r.Post("/accounts/{id}/withdraw", h.Ledger.Withdraw)
			r.Post("/accounts/{fromId}/transfer/{toId}", h.Ledger.Transfer)
			r.Post("/accounts/{id}/close", h.Ledger.CloseAccount)
			r.Post("/transactions/{id}/reverse", h.Ledger.ReverseTransaction)

			r.Post("/recurring-transfers", h.Recurring.CreateRule)
			r.Patch("/recurring-transfers/{id}", h.Recurring.UpdateRule)
			r.Post("/recurring-transfers/{id}/pause", h.Recurring.PauseRule)
			r.Post("/recurring-transfers/{id}/resume", h.Recurring.ResumeRule)
			r.Delete("/recurring-transfers/{id}", h.Recurring.CancelRule)

			r.Post("/product-maturities", h.Maturities.CreateMaturity)
			r.Delete("/product-maturities/{id}", h.Maturities.CancelMaturity)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey))
		r.Post("/scheduler/recurring/tick", h.Internal.TickRecurringTransfers)
		r.Post("/scheduler/maturities/run", h.Internal.RunMaturityPayouts)
	})

	return r
}
