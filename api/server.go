/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers (rate limit key)
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Request count and latency per route pattern
  6. CORS:       Cross-origin requests for the operator UI
  7. RateLimit:  Per-IP request budget (httprate), API routes only

ROUTE GROUPS:
  /healthz                    Liveness and store ping
  /metrics                    Prometheus scrape endpoint
  /api/accounts/*             Ledger
  /api/shipments/*            Booking collaborator
  /api/documents/*            Billing
  /api/clubs/*                Club batches
  /api/reconciliation/*       Drift sweeps
  /api/scenarios/*            Demo scenarios (not in production)

SECURITY NOTE:
  No authentication middleware. Deploy behind an authenticating proxy.

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
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/warp/freight-core/metrics"
)

// RouterOptions configures the outer HTTP surface.
type RouterOptions struct {
	CORSOrigins []string
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
	Metrics   *metrics.Metrics
	// DisableScenarios hides the store-resetting demo routes.
	DisableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.Limit(opts.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Put("/{code}", h.SaveAccount)
			r.Get("/{code}/ledger", h.GetLedger)
			r.Post("/{code}/entries", h.PostEntry)
		})

		r.Route("/shipments", func(r chi.Router) {
			r.Get("/{awb}", h.GetShipment)
			r.Put("/{awb}", h.SaveShipment)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{number}", h.GetDocument)
			r.Put("/{number}", h.ReplaceDocument)
			r.Delete("/{number}", h.DeleteDocument)
		})

		r.Route("/clubs", func(r chi.Router) {
			r.Get("/", h.ListClubs)
			r.Get("/{clubNo}", h.GetClub)
			r.Put("/{clubNo}", h.UpsertClub)
			r.Delete("/{clubNo}", h.DeleteClub)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListSweepRuns)
			r.Post("/sweep", h.TriggerSweep)
		})

		if !opts.DisableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger logs one line per request with its chi request id.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
