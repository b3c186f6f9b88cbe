package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// WorkerLister reports worker liveness.
type WorkerLister interface {
	List(ctx context.Context, now time.Time) ([]domain.WorkerStatus, error)
}

// WorkerHandler serves the worker liveness endpoint.
type WorkerHandler struct {
	workers WorkerLister
	logger  *slog.Logger
}

// NewWorkerHandler creates a WorkerHandler.
func NewWorkerHandler(workers WorkerLister, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{workers: workers, logger: logger.With(slog.String("handler", "workers"))}
}

// ListWorkers returns every known worker with its online flag.
// GET /api/workers
func (h *WorkerHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.workers.List(r.Context(), time.Now().UTC())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": nonNil(workers)})
}
