package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QueueTradeRequest is the admission input from a signal source.
type QueueTradeRequest struct {
	ContractAddress string `json:"contract_address"`
	Chain           Chain  `json:"chain"`
	ChannelID       string `json:"channel_id"`
	SourceMessage   string `json:"source_message"`
}

// BoughtReport is the execution result of a successful buy.
type BoughtReport struct {
	TxRef          string          `json:"tx_ref"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	BuyPrice       float64         `json:"buy_price"`
	Token          TokenMeta       `json:"token"`
}

// PriceUpdate is the outcome of evaluating a fresh price.
type PriceUpdate struct {
	PositionID string     `json:"position_id"`
	PnLPct     float64    `json:"pnl_pct"`
	PnLSOL     float64    `json:"pnl_sol"`
	ShouldExit bool       `json:"should_exit"`
	ExitReason SellReason `json:"exit_reason"`
	SellPct    float64    `json:"sell_pct"`
	AutoSell   bool       `json:"auto_sell"`
}

// Settlement is the outcome of settling a sell order.
type Settlement struct {
	SellOrder      SellOrder `json:"sell_order"`
	TradeFinalized bool      `json:"trade_finalized"`
}

// Protocol is the action surface consumed by polling workers.
type Protocol interface {
	QueueTrade(ctx context.Context, req QueueTradeRequest) (Trade, error)
	ListPendingAdmission(ctx context.Context) ([]Trade, error)
	// ListPendingBuys returns approved trades whose buy has not been reported.
	ListPendingBuys(ctx context.Context) ([]Trade, error)
	AdvanceToPendingBuy(ctx context.Context, tradeID string) (Trade, error)
	ReportBought(ctx context.Context, tradeID string, report BoughtReport) (Trade, error)
	ReportFailed(ctx context.Context, tradeID, errorMessage string) (Trade, error)
	CancelTrade(ctx context.Context, tradeID string) (Trade, error)
	ListActivePositions(ctx context.Context) ([]Position, error)
	UpdatePrice(ctx context.Context, positionID string, price float64, now time.Time) (PriceUpdate, error)
	CreateSellOrder(ctx context.Context, positionID string, sellPct float64, reason SellReason) (SellOrder, error)
	ListPendingSellOrders(ctx context.Context) ([]SellOrder, error)
	SettleSellOrder(ctx context.Context, sellOrderID, txRef string, realized decimal.Decimal) (Settlement, error)
	FailSellOrder(ctx context.Context, sellOrderID, errorMessage string) (SellOrder, error)
	Heartbeat(ctx context.Context, workerName string, metadata map[string]any) error
}

// PriceSource quotes the current price of a token in SOL.
type PriceSource interface {
	Price(ctx context.Context, chain Chain, contractAddress string) (float64, error)
}

// Fill is the result of an executed swap.
type Fill struct {
	TxRef       string          `json:"tx_ref"`
	Price       float64         `json:"price"`
	Tokens      decimal.Decimal `json:"tokens"`
	ProceedsSOL decimal.Decimal `json:"proceeds_sol"`
	Token       TokenMeta       `json:"token"`
}

// Executor performs swaps. Signing and broadcasting live behind it.
type Executor interface {
	Buy(ctx context.Context, t Trade) (Fill, error)
	Sell(ctx context.Context, p Position, o SellOrder) (Fill, error)
}
