package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"localrag/internal/pkg/logger"
	"localrag/internal/pkg/response"
	"localrag/internal/service"
)

const maxQueryBody = 1 << 20

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Context string   `json:"context"`
	Sources []string `json:"sources"`
}

type BuildResponse struct {
	Generation string `json:"generation"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	Skipped    int    `json:"skipped"`
	Dimension  int    `json:"dimension"`
	DurationMS int64  `json:"duration_ms"`
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Status handles GET /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.engine.Stats())
}

// Query handles POST /v1/query
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "Query")

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		h.respondError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res := h.engine.Query(ctx, req.Query)
	ctxzap.Debug(ctx, "query served", zap.Int("sources", len(res.Sources)))
	response.Success(w, QueryResponse{Context: res.Context, Sources: res.Sources})
}

// Rebuild handles POST /v1/rebuild. The build outlives a disconnected client.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "Rebuild")

	report, err := h.engine.Build(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, service.ErrBuildInProgress):
		h.respondError(ctx, w, http.StatusConflict, err.Error(), nil)
		return
	case err != nil:
		h.respondError(ctx, w, http.StatusUnprocessableEntity, err.Error(), err)
		return
	}

	ctxzap.Info(ctx, "rebuild finished", zap.String("generation", report.Generation))
	response.Success(w, BuildResponse{
		Generation: report.Generation,
		Files:      report.Files,
		Chunks:     report.Chunks,
		Skipped:    report.Skipped,
		Dimension:  report.Dimension,
		DurationMS: report.Duration.Milliseconds(),
	})
}

func (h *Handler) respondError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		ctxzap.Error(ctx, message, zap.Error(err))
	} else {
		ctxzap.Warn(ctx, message)
	}
	response.Error(w, status, message)
}
