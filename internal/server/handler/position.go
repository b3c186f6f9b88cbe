package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.Position, error)
}

// SellRequester creates sell orders.
type SellRequester interface {
	Create(ctx context.Context, positionID string, pct float64, reason domain.SellReason) (domain.SellOrder, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	sells     SellRequester
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given services and logger.
func NewPositionHandler(positions PositionService, sells SellRequester, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		sells:     sells,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions; active ones only unless all=true.
// GET /api/positions?all=true
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	positions, err := h.positions.List(r.Context(), activeOnly, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: nonNil(positions)})
}

// ClosePosition requests a manual sale of the whole position.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.sells.Create(r.Context(), id, 100, domain.ReasonManualClose)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: manual close requested",
		slog.String("position_id", id),
		slog.String("sell_order_id", order.ID),
	)
	writeJSON(w, http.StatusCreated, order)
}
