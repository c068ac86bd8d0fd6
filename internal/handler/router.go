package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP surface. metrics serves GET /metrics and may be
// nil.
func NewRouter(h *Handler, verifier TokenVerifier, metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// Provider callbacks authenticate by signature, not by identity.
	r.Post("/payments/webhook", h.Webhook)
	r.Post("/pay/stub/{orderID}", h.StubCheckout)

	r.Group(func(r chi.Router) {
		r.Use(Identity(verifier))

		r.Get("/events", h.ListEvents)
		r.Get("/events/{id}", h.GetEvent)
		r.Get("/events/{id}/status", h.Status)

		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)

			r.Post("/events", h.CreateEvent)
			r.Post("/events/{id}/registrations", h.RegisterSolo)
			r.Post("/events/{id}/teams", h.CreateTeam)
			r.Post("/teams/join", h.JoinTeam)
			r.Patch("/teams/{id}", h.EditTeam)
			r.Post("/payments/orders", h.CreateOrder)
		})
	})

	return r
}
