// Package risk decides when an open position should be exited.
package risk

import (
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// FullExitPct is the sell percentage suggested for every trigger.
const FullExitPct = 100.0

// Decision is the outcome of evaluating a price sample. The tracking fields
// are returned for the caller to persist; Evaluate itself has no side effects.
type Decision struct {
	PnLPct       float64
	PnLSOL       float64
	HighestPrice float64
	LowestPrice  float64
	ShouldExit   bool
	Reason       domain.SellReason
	SellPct      float64
}

// Evaluate computes P&L and checks exit triggers in fixed priority order:
// take profit, stop loss, max hold time, trailing stop. The first match wins.
func Evaluate(p domain.Position, price float64, now time.Time) Decision {
	d := Decision{
		HighestPrice: p.HighestPrice,
		LowestPrice:  p.LowestPrice,
	}

	if price > d.HighestPrice {
		d.HighestPrice = price
	}
	if d.LowestPrice <= 0 || price < d.LowestPrice {
		d.LowestPrice = price
	}

	priced := p.EntryPrice > 0 && price > 0
	if priced {
		d.PnLPct = (price - p.EntryPrice) / p.EntryPrice * 100
		d.PnLSOL = (price - p.EntryPrice) * p.TokensHeld.InexactFloat64()
	}

	switch {
	case priced && p.TakeProfitPct != nil && d.PnLPct >= *p.TakeProfitPct:
		d.Reason = domain.ReasonTakeProfit
	case priced && p.StopLossPct != nil && d.PnLPct <= *p.StopLossPct:
		d.Reason = domain.ReasonStopLoss
	case p.MaxHoldUntil != nil && !now.Before(*p.MaxHoldUntil):
		d.Reason = domain.ReasonMaxHoldTime
	case priced && p.TrailingStopPct != nil && d.HighestPrice > 0 &&
		(price-d.HighestPrice)/d.HighestPrice*100 <= -*p.TrailingStopPct:
		d.Reason = domain.ReasonTrailingStop
	}

	if d.Reason != "" {
		d.ShouldExit = true
		d.SellPct = FullExitPct
	}
	return d
}

// Apply copies the tracking and P&L fields of d onto p.
func Apply(p domain.Position, price float64, d Decision) domain.Position {
	p.CurrentPrice = price
	p.HighestPrice = d.HighestPrice
	p.LowestPrice = d.LowestPrice
	p.UnrealizedPnLPct = d.PnLPct
	p.UnrealizedPnLSOL = d.PnLSOL
	return p
}
