package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers the task API on the given chi router. Streaming
// routes are kept out of the request timeout.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	var submit http.Handler = http.HandlerFunc(h.SubmitTask)
	if h.Idempotency != nil && h.IdempotencyTTL > 0 {
		submit = Idempotency(h.Idempotency, h.IdempotencyTTL)(submit)
	}
	if h.SubmitLimiter != nil {
		submit = h.SubmitLimiter.Handler(submit)
	}

	r.Route("/a2a/tasks", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Method(http.MethodPost, "/", submit)
			r.Get("/", h.ListTasks)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/cancel", h.CancelTask)
		})
		r.Get("/{id}/events", h.StreamEvents)
	})
}
