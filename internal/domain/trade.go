package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus tracks the trade lifecycle.
type TradeStatus string

const (
	TradePendingSigma TradeStatus = "pending_sigma"
	TradePendingBuy   TradeStatus = "pending_buy"
	TradeBought       TradeStatus = "bought"
	TradeSold         TradeStatus = "sold"
	TradeFailed       TradeStatus = "failed"
	TradeCancelled    TradeStatus = "cancelled"
)

// OpenTradeStatuses are the statuses that block a second admission for the
// same contract and chain.
var OpenTradeStatuses = []TradeStatus{TradePendingSigma, TradePendingBuy, TradeBought}

var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradePendingSigma: {TradePendingBuy, TradeFailed, TradeCancelled},
	TradePendingBuy:   {TradeBought, TradeFailed, TradeCancelled},
	TradeBought:       {TradeSold},
}

// Valid reports whether s is a known status.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradePendingSigma, TradePendingBuy, TradeBought, TradeSold, TradeFailed, TradeCancelled:
		return true
	}
	return false
}

// IsOpen reports whether s participates in admission dedup.
func (s TradeStatus) IsOpen() bool {
	return s == TradePendingSigma || s == TradePendingBuy || s == TradeBought
}

// IsTerminal reports whether s can never change again.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeSold || s == TradeFailed || s == TradeCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	for _, allowed := range tradeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TokenMeta is descriptive token data reported by the buyer.
type TokenMeta struct {
	Symbol string `json:"symbol,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Trade is one buy-through-sell lifecycle for a single acquisition.
type Trade struct {
	ID              string          `json:"id"`
	ContractAddress string          `json:"contract_address"`
	Chain           Chain           `json:"chain"`
	ChannelID       string          `json:"channel_id"`
	ChannelName     string          `json:"channel_name"`
	SourceMessage   string          `json:"source_message"`
	AllocationSOL   decimal.Decimal `json:"allocation_sol"`
	Status          TradeStatus     `json:"status"`

	BuyPrice       *float64        `json:"buy_price,omitempty"`
	SellPrice      *float64        `json:"sell_price,omitempty"` // average exit price across settled sells
	BuyTxRef       string          `json:"buy_tx_ref"`
	SellTxRef      string          `json:"sell_tx_ref"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	Token          TokenMeta       `json:"token"`

	RealizedSOL   decimal.Decimal  `json:"realized_sol"`
	PnLSOL        *decimal.Decimal `json:"pnl_sol,omitempty"`
	PnLPct        *float64         `json:"pnl_pct,omitempty"`
	FailureReason string           `json:"failure_reason"`

	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	BoughtAt    *time.Time `json:"bought_at,omitempty"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MaxSourceMessageLen bounds the stored signal preview.
const MaxSourceMessageLen = 200

// TruncateMessage trims a signal preview to MaxSourceMessageLen runes.
func TruncateMessage(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxSourceMessageLen {
		return msg
	}
	return string(r[:MaxSourceMessageLen])
}
