package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

type actionFunc func(ctx context.Context, r *http.Request) (any, error)

// ActionHandler exposes domain.Protocol as POST /api/actions/{action}.
type ActionHandler struct {
	proto   domain.Protocol
	actions map[string]actionFunc
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler over proto.
func NewActionHandler(proto domain.Protocol, logger *slog.Logger) *ActionHandler {
	h := &ActionHandler{proto: proto, logger: logger.With(slog.String("handler", "actions"))}
	h.actions = map[string]actionFunc{
		domain.ActionQueueTrade:            h.queueTrade,
		domain.ActionListPendingAdmission:  h.listPendingAdmission,
		domain.ActionListPendingBuys:       h.listPendingBuys,
		domain.ActionAdvanceToPendingBuy:   h.advanceToPendingBuy,
		domain.ActionReportBought:          h.reportBought,
		domain.ActionReportFailed:          h.reportFailed,
		domain.ActionCancelTrade:           h.cancelTrade,
		domain.ActionListActivePositions:   h.listActivePositions,
		domain.ActionUpdatePrice:           h.updatePrice,
		domain.ActionCreateSellOrder:       h.createSellOrder,
		domain.ActionListPendingSellOrders: h.listPendingSellOrders,
		domain.ActionSettleSellOrder:       h.settleSellOrder,
		domain.ActionFailSellOrder:         h.failSellOrder,
		domain.ActionHeartbeat:             h.heartbeat,
	}
	return h
}

// Handle dispatches one action.
// POST /api/actions/{action}
func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("action")
	fn, ok := h.actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, domain.CodeNotFound, fmt.Sprintf("unknown action %q", name))
		return
	}
	out, err := fn(r.Context(), r)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	status := http.StatusOK
	if name == domain.ActionQueueTrade {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func (h *ActionHandler) queueTrade(ctx context.Context, r *http.Request) (any, error) {
	var req domain.QueueTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.QueueTrade(ctx, req)
}

func (h *ActionHandler) listPendingAdmission(ctx context.Context, _ *http.Request) (any, error) {
	out, err := h.proto.ListPendingAdmission(ctx)
	return nonNil(out), err
}

func (h *ActionHandler) listPendingBuys(ctx context.Context, _ *http.Request) (any, error) {
	out, err := h.proto.ListPendingBuys(ctx)
	return nonNil(out), err
}

func (h *ActionHandler) advanceToPendingBuy(ctx context.Context, r *http.Request) (any, error) {
	var req domain.TradeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.AdvanceToPendingBuy(ctx, req.TradeID)
}

func (h *ActionHandler) reportBought(ctx context.Context, r *http.Request) (any, error) {
	var req domain.ReportBoughtRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.ReportBought(ctx, req.TradeID, req.BoughtReport)
}

func (h *ActionHandler) reportFailed(ctx context.Context, r *http.Request) (any, error) {
	var req domain.ReportFailedRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.ReportFailed(ctx, req.TradeID, req.ErrorMessage)
}

func (h *ActionHandler) cancelTrade(ctx context.Context, r *http.Request) (any, error) {
	var req domain.TradeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.CancelTrade(ctx, req.TradeID)
}

func (h *ActionHandler) listActivePositions(ctx context.Context, _ *http.Request) (any, error) {
	out, err := h.proto.ListActivePositions(ctx)
	return nonNil(out), err
}

func (h *ActionHandler) updatePrice(ctx context.Context, r *http.Request) (any, error) {
	var req domain.UpdatePriceRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	var now time.Time
	if req.Now != nil {
		now = *req.Now
	}
	return h.proto.UpdatePrice(ctx, req.PositionID, req.CurrentPrice, now)
}

func (h *ActionHandler) createSellOrder(ctx context.Context, r *http.Request) (any, error) {
	var req domain.CreateSellOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.CreateSellOrder(ctx, req.PositionID, req.SellPct, req.Reason)
}

func (h *ActionHandler) listPendingSellOrders(ctx context.Context, _ *http.Request) (any, error) {
	out, err := h.proto.ListPendingSellOrders(ctx)
	return nonNil(out), err
}

func (h *ActionHandler) settleSellOrder(ctx context.Context, r *http.Request) (any, error) {
	var req domain.SettleSellOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.SettleSellOrder(ctx, req.SellOrderID, req.TxRef, req.RealizedAmount)
}

func (h *ActionHandler) failSellOrder(ctx context.Context, r *http.Request) (any, error) {
	var req domain.FailSellOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.proto.FailSellOrder(ctx, req.SellOrderID, req.ErrorMessage)
}

func (h *ActionHandler) heartbeat(ctx context.Context, r *http.Request) (any, error) {
	var req domain.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if err := h.proto.Heartbeat(ctx, req.WorkerName, req.Metadata); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
