/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Recoverer:   Panic recovery (500 instead of crash)
  2. RequestID:   X-Request-Id per request, attached to the log context
  3. Logging:     request.start / request.complete with status and duration
  4. CORS:        Cross-origin requests for the operator frontend
  5. Idempotency: Only on POST /api/charges and POST /api/charges/{id}/payments

ROUTE GROUPS:
  /api/charges/*    Charge ledger
  /api/students/*   Student directory
  /api/summary      Ledger totals
  /api/demo/load    Demo data (replaces the ledger)
  /healthz          Dependency checks
  /metrics          Prometheus exposition

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: RequestID, Logging, Idempotency
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/swim-ledger/idempotency"
)

// RouterOptions configures the cross-cutting parts of the router.
// Zero values are usable.
type RouterOptions struct {
	CORSOrigins []string

	// Idempotency is optional; without it Idempotency-Key is ignored.
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	// Gatherer backs /metrics; defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestID(h.Log))
	r.Use(Logging(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader, idempotencyKeyHeader},
		ExposedHeaders: []string{requestIDHeader, replayedHeader},
	}))

	idem := Idempotency(opts.Idempotency, opts.IdempotencyTTL, h.Log)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Charge routes
		r.Route("/charges", func(r chi.Router) {
			r.Get("/", h.ListCharges)
			r.With(idem).Post("/", h.CreateCharge)
			r.Get("/{id}", h.GetCharge)
			r.Patch("/{id}", h.AmendCharge)
			r.Delete("/{id}", h.DeleteCharge)
			r.With(idem).Post("/{id}/payments", h.RecordPayment)
			r.Get("/{id}/history", h.GetHistory)
		})

		// Directory routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Get("/{id}", h.GetStudent)
		})

		r.Get("/summary", h.GetSummary)
		r.Post("/demo/load", h.LoadDemo)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), h.Log, w, newError(CodeNotFound, "no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: APIError{
			Code:    string(CodeBadRequest),
			Message: "method " + r.Method + " not allowed",
		}})
	})

	return r
}
