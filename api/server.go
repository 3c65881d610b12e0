/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions - the wiring layer connecting §6's URLs to handlers.

ROUTER: chi
  Chosen for the same reasons as the ambient stack it was borrowed from:
  lightweight, context-based, RESTful route patterns, broad middleware
  support.

MIDDLEWARE STACK:
  1. Logger:        request logging
  2. Recoverer:      panic recovery (500 instead of crash)
  3. RequestID:      unique ID per request for tracing
  4. correlationID:  echoes or mints X-Correlation-ID, the same header the
                      proxy threads onto every forwarded request, so a
                      request's ID survives the hop from proxy to instance
  5. CORS:           cross-origin requests for local tooling

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/instance/main.go: server startup
  - proxy/proxy.go: mints X-Correlation-ID on the proxy side of the hop
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// correlationID echoes the caller's X-Correlation-ID (set by the proxy, or
// by a direct client bypassing it) or mints one if absent, and reflects it
// back on the response so a caller that didn't send one can still tie its
// request to instance logs.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Correlation-ID", id)
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the chi router exposing every §6 endpoint against h.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(correlationID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/books", h.ListBooks)
	r.Post("/books", h.CreateBook)
	r.Get("/books/{isbn}", h.GetBook)

	r.Post("/users", h.CreateUser)
	r.Get("/users/{user_id}", h.GetUser)

	r.Post("/reservations", h.CreateReservation)
	r.Get("/reservations/my/{user_id}", h.ListMyReservations)

	r.Get("/sla", h.GetSLA)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/health", h.GetHealth)

	if h.ic.Registry != nil {
		r.Handle("/debug/prom", promhttp.HandlerFor(h.ic.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
