/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route table.
  This is the wiring layer that connects URLs to handlers and to the
  guard chain in middleware.go.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Resolves the client address used in audit events
  3. requestLog: One logrus line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend

ACCESS:
  Route                                   Roles                   Permission
  POST /api/savings|loans/.../transactions admin, manager, teller transaction:create
  POST /api/transactions                   admin, manager, teller transaction:create
  POST /api/transactions/{id}/process      admin, manager         transaction:process
  GET  /api/transactions[/{id}]            admin, manager, teller transaction:read
  GET  /api/reports/...                    admin, manager         report:read
  GET  /api/reports/{kind}/export          admin, manager         report:export
  POST /api/reports/snapshots              admin, manager         snapshot:generate
  POST /api/reports/snapshots/{id}/finalize admin                 snapshot:finalize

  /health is public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// DefaultAllowedOrigins are used when NewRouter is given none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, auth *Auth, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog(h.logger()))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	guard := func(perm string, roles ...string) chi.Router {
		return r.With(auth.Authenticate, RequireRole(roles...), RequirePermission(perm))
	}
	staff := []string{RoleAdmin, RoleManager, RoleTeller}
	managers := []string{RoleAdmin, RoleManager}

	// Transactions
	guard(PermTransactionCreate, staff...).Post("/api/savings/{accountId}/transactions", h.SubmitSavingsTransaction)
	guard(PermTransactionCreate, staff...).Post("/api/loans/{loanId}/transactions", h.SubmitLoanTransaction)
	guard(PermTransactionCreate, staff...).Post("/api/transactions", h.CreateTransaction)
	guard(PermTransactionProcess, managers...).Post("/api/transactions/{id}/process", h.ProcessTransaction)
	guard(PermTransactionRead, staff...).Get("/api/transactions", h.ListTransactions)
	guard(PermTransactionRead, staff...).Get("/api/transactions/{id}", h.GetTransaction)

	// Snapshots
	guard(PermSnapshotGenerate, managers...).Post("/api/reports/snapshots", h.GenerateSnapshot)
	guard(PermSnapshotFinalize, RoleAdmin).Post("/api/reports/snapshots/{id}/finalize", h.FinalizeSnapshot)
	guard(PermReportRead, managers...).Get("/api/reports/snapshots", h.ListSnapshots)
	guard(PermReportRead, managers...).Get("/api/reports/snapshots/{id}", h.GetSnapshot)

	// Reports
	guard(PermReportRead, managers...).Get("/api/reports/{kind}", h.GetReport)
	guard(PermReportExport, managers...).Get("/api/reports/{kind}/export", h.ExportReport)

	return r
}

// requestLog writes one line per request once the handler returns.
func requestLog(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"remote":      r.RemoteAddr,
			}).Info("http request")
		})
	}
}
