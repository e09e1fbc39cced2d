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
  1. Logger:        Request logging
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestID:     Unique ID per request for tracing
  4. CORS:          Cross-origin requests for the CRM frontend
  5. RequireTenant: Rejects /api requests missing X-Org-ID

ROUTE GROUPS:
  /api/students/*    Students, balances, histories
  /api/transactions  Manual ledger entries
  /api/charges/*     Tuition charges
  /api/payments      Payment intake
  /api/lessons/*     Individual lessons and sessions
  /api/sessions/*    Duration changes
  /api/pricing/*     Discount/surcharge rules and calculation
  /healthz           Liveness probe (no tenant required)

SECURITY NOTE:
  X-Org-ID is trusted as-is. In production an auth middleware must
  resolve it from the caller's credentials instead.

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

// orgHeader carries the organization of the caller.
const orgHeader = "X-Org-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", orgHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireTenant)

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Delete("/{id}", h.ArchiveStudent)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/charges", h.GetStudentCharges)
		})

		// Ledger routes
		r.Post("/transactions", h.PostTransaction)

		// Billing routes
		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.CreateCharge)
			r.Get("/{id}", h.GetCharge)
			r.Post("/{id}/cancel", h.CancelCharge)
		})
		r.Post("/payments", h.RecordPayment)

		// Scheduling routes
		r.Route("/lessons", func(r chi.Router) {
			r.Post("/", h.CreateLesson)
			r.Get("/{id}/sessions", h.ListSessions)
			r.Post("/{id}/sessions", h.CreateSession)
		})
		r.Put("/sessions/{id}/duration", h.ChangeDuration)

		// Pricing routes
		r.Route("/pricing", func(r chi.Router) {
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Put("/rules/{id}/active", h.SetRuleActive)
			r.Post("/bindings", h.CreateBinding)
			r.Delete("/bindings/{id}", h.DeleteBinding)
			r.Post("/bindings/{id}/use", h.UseBinding)
			r.Post("/calculate", h.CalculatePrice)
		})
	})

	return r
}

// RequireTenant rejects requests that do not identify an organization.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(orgHeader) == "" {
			writeError(w, http.StatusBadRequest, "Missing "+orgHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
