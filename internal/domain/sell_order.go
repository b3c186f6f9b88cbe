package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SellReason names why a sell order was created.
type SellReason string

const (
	ReasonTakeProfit   SellReason = "take_profit"
	ReasonStopLoss     SellReason = "stop_loss"
	ReasonTrailingStop SellReason = "trailing_stop"
	ReasonMaxHoldTime  SellReason = "max_hold_time"
	ReasonManualClose  SellReason = "manual_close"
	ReasonForceClear   SellReason = "force_clear"
)

// Valid reports whether r is a known reason.
func (r SellReason) Valid() bool {
	switch r {
	case ReasonTakeProfit, ReasonStopLoss, ReasonTrailingStop, ReasonMaxHoldTime, ReasonManualClose, ReasonForceClear:
		return true
	}
	return false
}

// SellOrderStatus tracks settlement of a sell order.
type SellOrderStatus string

const (
	SellPending  SellOrderStatus = "pending"
	SellExecuted SellOrderStatus = "executed"
	SellFailed   SellOrderStatus = "failed"
)

// SellOrder is a request to liquidate some or all of a position.
// TokensToSell is fixed when the order is created.
type SellOrder struct {
	ID             string          `json:"id"`
	PositionID     string          `json:"position_id"`
	TradeID        string          `json:"trade_id"`
	SellPct        float64         `json:"sell_pct"`
	TokensToSell   decimal.Decimal `json:"tokens_to_sell"`
	Reason         SellReason      `json:"reason"`
	Status         SellOrderStatus `json:"status"`
	RealizedSOL    decimal.Decimal `json:"realized_sol"`
	TxRef          string          `json:"tx_ref"`
	FailureReason  string          `json:"failure_reason"`
	ClosedPosition bool            `json:"closed_position"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
}
