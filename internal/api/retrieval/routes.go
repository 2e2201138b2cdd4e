package retrieval

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers retrieval routes. Requests are bounded by timeout
// except rebuild, which runs until the build finishes.
func RegisterRoutes(r chi.Router, h *Handler, timeout time.Duration) {
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if timeout > 0 {
				r.Use(middleware.Timeout(timeout))
			}
			r.Get("/status", h.Status)
			r.Post("/query", h.Query)
		})
		r.Post("/rebuild", h.Rebuild)
	})
}
