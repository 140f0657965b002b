/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/bookings/*       Booking lifecycle, inventories, billing
  /api/materials        Catalog listing
  /api/catalog          Catalog loading
  /api/scenarios/*      Demo scenarios
  /health               Liveness and store health
  /metrics              Prometheus metrics

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.HealthCheck)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Delete("/", h.DeleteBooking)
				r.Put("/periods", h.UpdatePeriods)
				r.Put("/details", h.UpdateDetails)
				r.Put("/billable", h.SetBillable)
				r.Post("/duplicate", h.DuplicateBooking)

				// Materials and prices
				r.Put("/materials", h.SetMaterials)
				r.Delete("/materials/{materialID}", h.RemoveMaterial)
				r.Put("/materials/{materialID}/price", h.SetLinePrice)
				r.Put("/extras", h.SetExtras)
				r.Post("/prices/recalculate", h.RecalculatePrices)

				// Inventories
				r.Put("/inventories/{phase}", h.UpdateInventory)
				r.Post("/inventories/{phase}", h.FinishInventory)
				r.Delete("/inventories/{phase}", h.CancelInventory)

				// Lifecycle
				r.Post("/archive", h.ArchiveBooking)
				r.Delete("/archive", h.UnarchiveBooking)
				r.Post("/restore", h.RestoreBooking)
				r.Delete("/hard", h.HardDeleteBooking)

				// Availability and billing
				r.Get("/missing-materials", h.GetMissingMaterials)
				r.Get("/documents", h.ListDocuments)
				r.Post("/documents", h.IssueDocument)
			})
		})

		r.Get("/materials", h.ListMaterials)
		r.Post("/catalog", h.LoadCatalog)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
