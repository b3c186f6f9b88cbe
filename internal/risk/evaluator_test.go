package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func position(entry float64, tokens int64) domain.Position {
	return domain.Position{
		ID:           "pos-1",
		EntryPrice:   entry,
		TokensHeld:   decimal.NewFromInt(tokens),
		HighestPrice: entry,
		LowestPrice:  entry,
		IsActive:     true,
	}
}

func TestEvaluate_TakeProfitScenario(t *testing.T) {
	p := position(1.0, 100)
	p.TakeProfitPct = ptr(50.0)

	d := Evaluate(p, 1.6, time.Now())

	assert.InDelta(t, 60.0, d.PnLPct, 1e-9)
	assert.InDelta(t, 60.0, d.PnLSOL, 1e-9)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, domain.ReasonTakeProfit, d.Reason)
	assert.Equal(t, FullExitPct, d.SellPct)
	assert.Equal(t, 1.6, d.HighestPrice)
	assert.Equal(t, 1.0, d.LowestPrice)
}

func TestEvaluate_TakeProfitBeatsStopLoss(t *testing.T) {
	p := position(1.0, 10)
	// Contrived thresholds so one sample satisfies both.
	p.TakeProfitPct = ptr(-50.0)
	p.StopLossPct = ptr(10.0)

	d := Evaluate(p, 0.9, time.Now())
	assert.Equal(t, domain.ReasonTakeProfit, d.Reason)
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	p := position(1.0, 10)
	p.HighestPrice = 2.0
	p.StopLossPct = ptr(-20.0)
	p.MaxHoldUntil = &past
	p.TrailingStopPct = ptr(10.0)

	// Stop loss, max hold and trailing all match; stop loss wins.
	assert.Equal(t, domain.ReasonStopLoss, Evaluate(p, 0.7, now).Reason)

	// Max hold beats trailing.
	assert.Equal(t, domain.ReasonMaxHoldTime, Evaluate(p, 0.95, now).Reason)

	// Only trailing left.
	p.MaxHoldUntil = nil
	d := Evaluate(p, 0.95, now)
	assert.Equal(t, domain.ReasonTrailingStop, d.Reason)
	assert.Equal(t, 2.0, d.HighestPrice)
}

func TestEvaluate_MaxHoldBoundary(t *testing.T) {
	deadline := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := position(1.0, 10)
	p.MaxHoldUntil = &deadline

	assert.False(t, Evaluate(p, 1.0, deadline.Add(-time.Nanosecond)).ShouldExit)
	assert.Equal(t, domain.ReasonMaxHoldTime, Evaluate(p, 1.0, deadline).Reason)
}

func TestEvaluate_TrailingStopBoundary(t *testing.T) {
	p := position(1.0, 10)
	p.HighestPrice = 2.0
	p.TrailingStopPct = ptr(12.5)

	// Exactly 12.5% below the high fires.
	assert.Equal(t, domain.ReasonTrailingStop, Evaluate(p, 1.75, time.Now()).Reason)
	assert.False(t, Evaluate(p, 1.76, time.Now()).ShouldExit)
}

func TestEvaluate_NewHighDoesNotTrail(t *testing.T) {
	p := position(1.0, 10)
	p.TrailingStopPct = ptr(5.0)

	d := Evaluate(p, 3.0, time.Now())
	assert.False(t, d.ShouldExit)
	assert.Equal(t, 3.0, d.HighestPrice)
}

func TestEvaluate_LowestInitializedFromPrice(t *testing.T) {
	p := position(1.0, 10)
	p.LowestPrice = 0

	d := Evaluate(p, 1.2, time.Now())
	assert.Equal(t, 1.2, d.LowestPrice)

	p.LowestPrice = 1.2
	d = Evaluate(p, 0.8, time.Now())
	assert.Equal(t, 0.8, d.LowestPrice)
}

func TestEvaluate_PnLPrecision(t *testing.T) {
	samples := []struct{ entry, price float64 }{
		{0.000001234, 0.000001987},
		{1.0, 1.00001},
		{42.5, 13.37},
		{0.5, 0.5},
	}
	for _, s := range samples {
		p := position(s.entry, 1000)
		d := Evaluate(p, s.price, time.Now())
		want := (s.price - s.entry) / s.entry * 100
		assert.InDelta(t, want, d.PnLPct, 1e-5)
	}
}

func TestEvaluate_ZeroEntryNeverFiresPriceTriggers(t *testing.T) {
	p := position(0, 10)
	p.TakeProfitPct = ptr(0.0)
	p.StopLossPct = ptr(0.0)

	d := Evaluate(p, 1.0, time.Now())
	assert.False(t, d.ShouldExit)
	assert.Zero(t, d.PnLPct)
}

func TestEvaluate_Deterministic(t *testing.T) {
	p := position(1.0, 100)
	p.TrailingStopPct = ptr(10.0)
	now := time.Now()

	assert.Equal(t, Evaluate(p, 1.3, now), Evaluate(p, 1.3, now))
}

func TestApply(t *testing.T) {
	p := position(1.0, 100)
	d := Evaluate(p, 1.5, time.Now())
	p = Apply(p, 1.5, d)

	assert.Equal(t, 1.5, p.CurrentPrice)
	assert.Equal(t, 1.5, p.HighestPrice)
	assert.InDelta(t, 50.0, p.UnrealizedPnLPct, 1e-9)
	assert.InDelta(t, 50.0, p.UnrealizedPnLSOL, 1e-9)
}
