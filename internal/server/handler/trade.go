package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// TradeReader defines the methods the trade handler requires.
type TradeReader interface {
	List(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error)
	Get(ctx context.Context, id string) (domain.Trade, error)
	Events(ctx context.Context, id string) ([]domain.TradeEvent, error)
}

// TradeHandler serves the dashboard's trade endpoints.
type TradeHandler struct {
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trades"))}
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns trades, newest first, optionally filtered by status.
// GET /api/trades?status=bought&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	status := domain.TradeStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "unknown status "+string(status))
		return
	}
	trades, err := h.trades.List(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: nonNil(trades)})
}

// GetTrade returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.trades.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type listEventsResponse struct {
	Events []domain.TradeEvent `json:"events"`
}

// ListEvents returns the ledger of one trade in append order.
// GET /api/trades/{id}/events
func (h *TradeHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.trades.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: nonNil(events)})
}
