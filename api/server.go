/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/requests/*       Leave request lifecycle
  /api/employees/*      Employee records and balances
  /api/policies/*       Policy versions
  /api/carry-over/*     Year-end carry-over
  /api/audit            Audit trail query
  /healthz              Liveness

SECURITY NOTE:
  Authentication is not handled here. The caller's identity is taken from the
  X-Actor-ID header, which an upstream gateway is expected to set.

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
	"go.uber.org/zap"
)

// ActorHeader carries the id of the employee performing the call.
const ActorHeader = "X-Actor-ID"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Leave request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Post("/bulk-decision", h.BulkDecide)
			r.Get("/{id}", h.GetRequest)
			r.Delete("/{id}", h.DeleteRequest)
			r.Post("/{id}/decision", h.Decide)
			r.Post("/{id}/withdraw", h.Withdraw)
			r.Put("/{id}/dates", h.UpdateDates)
			r.Post("/{id}/cancellation", h.RequestCancellation)
			r.Post("/{id}/cancellation/decision", h.DecideCancellation)
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.SaveEmployee)
			r.Get("/{id}/balances/{year}", h.GetBalance)
			r.Post("/{id}/balances/{year}/adjustments", h.AdjustBalance)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Put("/", h.UpdatePolicy)
			r.Get("/active", h.ActivePolicy)
		})

		r.Post("/carry-over/{year}", h.RunCarryOver)
		r.Get("/audit", h.QueryAudit)
	})

	return r
}

// requestLogger logs one line per request through zap instead of the
// standard library logger that middleware.Logger writes to.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
