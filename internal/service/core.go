package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// Core is the in-process implementation of the worker action protocol.
type Core struct {
	Trades    *TradeService
	Positions *PositionService
	Sells     *SellService
	Liveness  *LivenessService
}

var _ domain.Protocol = (*Core)(nil)

func (c *Core) QueueTrade(ctx context.Context, req domain.QueueTradeRequest) (domain.Trade, error) {
	return c.Trades.Queue(ctx, req)
}

func (c *Core) ListPendingAdmission(ctx context.Context) ([]domain.Trade, error) {
	return c.Trades.ListPendingAdmission(ctx)
}

func (c *Core) ListPendingBuys(ctx context.Context) ([]domain.Trade, error) {
	return c.Trades.ListPendingBuys(ctx)
}

func (c *Core) AdvanceToPendingBuy(ctx context.Context, tradeID string) (domain.Trade, error) {
	return c.Trades.Approve(ctx, tradeID)
}

func (c *Core) ReportBought(ctx context.Context, tradeID string, report domain.BoughtReport) (domain.Trade, error) {
	return c.Trades.ReportBought(ctx, tradeID, report)
}

func (c *Core) ReportFailed(ctx context.Context, tradeID, errorMessage string) (domain.Trade, error) {
	return c.Trades.ReportFailed(ctx, tradeID, errorMessage)
}

func (c *Core) CancelTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	return c.Trades.Cancel(ctx, tradeID)
}

func (c *Core) ListActivePositions(ctx context.Context) ([]domain.Position, error) {
	return c.Positions.ListActive(ctx)
}

func (c *Core) UpdatePrice(ctx context.Context, positionID string, price float64, now time.Time) (domain.PriceUpdate, error) {
	return c.Positions.UpdatePrice(ctx, positionID, price, now)
}

func (c *Core) CreateSellOrder(ctx context.Context, positionID string, sellPct float64, reason domain.SellReason) (domain.SellOrder, error) {
	return c.Sells.Create(ctx, positionID, sellPct, reason)
}

func (c *Core) ListPendingSellOrders(ctx context.Context) ([]domain.SellOrder, error) {
	return c.Sells.ListPending(ctx)
}

func (c *Core) SettleSellOrder(ctx context.Context, sellOrderID, txRef string, realized decimal.Decimal) (domain.Settlement, error) {
	return c.Sells.Settle(ctx, sellOrderID, txRef, realized)
}

func (c *Core) FailSellOrder(ctx context.Context, sellOrderID, errorMessage string) (domain.SellOrder, error) {
	return c.Sells.Fail(ctx, sellOrderID, errorMessage)
}

func (c *Core) Heartbeat(ctx context.Context, workerName string, metadata map[string]any) error {
	return c.Liveness.Heartbeat(ctx, workerName, metadata)
}

// NewCore wires the lifecycle services over one storage backend.
func NewCore(
	storage domain.Storage,
	workers domain.WorkerStore,
	channels domain.ChannelDirectory,
	hooks Hooks,
	onlineTimeout time.Duration,
	logger *slog.Logger,
) *Core {
	return &Core{
		Trades:    NewTradeService(storage, channels, hooks, logger),
		Positions: NewPositionService(storage, hooks, logger),
		Sells:     NewSellService(storage, hooks, logger),
		Liveness:  NewLivenessService(workers, onlineTimeout, hooks, logger),
	}
}
