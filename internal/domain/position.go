package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the live holding created once a trade's buy succeeds.
// Thresholds are copied from the channel config at buy time and never
// change afterwards.
type Position struct {
	ID              string          `json:"id"`
	TradeID         string          `json:"trade_id"`
	ContractAddress string          `json:"contract_address"`
	Chain           Chain           `json:"chain"`
	EntryPrice      float64         `json:"entry_price"`
	TokensAtOpen    decimal.Decimal `json:"tokens_at_open"`
	TokensHeld      decimal.Decimal `json:"tokens_held"`

	HighestPrice     float64 `json:"highest_price"`
	LowestPrice      float64 `json:"lowest_price"`
	CurrentPrice     float64 `json:"current_price"`
	UnrealizedPnLSOL float64 `json:"unrealized_pnl_sol"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`

	TakeProfitPct   *float64   `json:"take_profit_pct,omitempty"`
	StopLossPct     *float64   `json:"stop_loss_pct,omitempty"` // negative
	TrailingStopPct *float64   `json:"trailing_stop_pct,omitempty"`
	MaxHoldUntil    *time.Time `json:"max_hold_until,omitempty"`
	AutoSellEnabled bool       `json:"auto_sell_enabled"`

	IsActive  bool       `json:"is_active"`
	Version   int64      `json:"version"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
