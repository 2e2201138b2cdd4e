package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"localrag/internal/api/middleware"
	"localrag/internal/api/retrieval"
	"localrag/internal/pkg/response"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *retrieval.Handler, logger *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]string{"status": "healthy"})
	})

	retrieval.RegisterRoutes(r, handler, timeout)

	return r
}
