/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/accounts/*      Account summary and ledger operations
  /api/transactions/*  Entry lookup and dispute opening
  /api/disputes/*      Dispute lifecycle
  /api/transfer        Atomic account-to-account move
  /api/admin/*         Adjustments, soft-disable, verify, inventory
  /healthz             Liveness
  /metrics             Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; the
  identity collaborator upstream supplies user IDs.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. corsOrigins
// lists allowed origins; empty means allow all.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Get("/{id}/orders", h.ListOrders)
			r.Get("/{id}/disputes", h.ListAccountDisputes)
			r.Post("/{id}/earn", h.Earn)
			r.Post("/{id}/spend", h.Spend)
			r.Post("/{id}/refund", h.Refund)
			r.Post("/{id}/redeem", h.Redeem)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/disputes", h.OpenDispute)
		})

		// Dispute routes
		r.Route("/disputes", func(r chi.Router) {
			r.Get("/pending", h.ListPendingDisputes)
			r.Get("/{id}", h.GetDispute)
			r.Post("/{id}/resolve", h.ResolveDispute)
			r.Post("/{id}/cancel", h.CancelDispute)
		})

		// Transfer
		r.Post("/transfer", h.Transfer)

		// Level catalog
		r.Get("/levels", h.ListLevels)

		// Mall items
		r.Get("/items/{id}", h.GetItem)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/accounts/{id}/adjust", h.Adjust)
			r.Post("/accounts/{id}/disable", h.DisableAccount)
			r.Post("/accounts/{id}/enable", h.EnableAccount)
			r.Post("/accounts/{id}/verify", h.VerifyAccount)
			r.Post("/items", h.UpsertItem)
		})
	})

	// Liveness probe
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus scrape endpoint
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	return r
}
