package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

func TestUpdatePrice_TakeProfitScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "memecoin-chat", "100", 1.0)

	upd, err := h.core.UpdatePrice(ctx, pos.ID, 1.6, h.now())
	require.NoError(t, err)
	assert.InDelta(t, 60.0, upd.PnLPct, 1e-9)
	assert.InDelta(t, 60.0, upd.PnLSOL, 1e-9)
	assert.True(t, upd.ShouldExit)
	assert.Equal(t, domain.ReasonTakeProfit, upd.ExitReason)
	assert.Equal(t, 100.0, upd.SellPct)
	assert.True(t, upd.AutoSell)

	stored, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.6, stored.CurrentPrice)
	assert.Equal(t, 1.6, stored.HighestPrice)
	assert.Equal(t, 1.0, stored.LowestPrice)
	assert.True(t, stored.TokensHeld.Equal(pos.TokensHeld))
}

func TestUpdatePrice_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "", "100", 1.0)

	_, err := h.core.UpdatePrice(ctx, pos.ID, 0, h.now())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.core.UpdatePrice(ctx, "missing", 1, h.now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSell_PartialThenFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, pos := h.bought(t, "memecoin-chat", "100", 0.001)

	o1, err := h.core.CreateSellOrder(ctx, pos.ID, 50, domain.ReasonManualClose)
	require.NoError(t, err)
	assert.True(t, o1.TokensToSell.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, domain.SellPending, o1.Status)

	res, err := h.core.SettleSellOrder(ctx, o1.ID, "sell-1", dec("0.06"))
	require.NoError(t, err)
	assert.False(t, res.TradeFinalized)

	p, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, p.TokensHeld.Equal(decimal.NewFromInt(50)))
	assert.True(t, p.IsActive)

	o2, err := h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonTakeProfit)
	require.NoError(t, err)
	assert.True(t, o2.TokensToSell.Equal(decimal.NewFromInt(50)))

	res, err = h.core.SettleSellOrder(ctx, o2.ID, "sell-2", dec("0.09"))
	require.NoError(t, err)
	assert.True(t, res.TradeFinalized)

	p, err = h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, p.TokensHeld.IsZero())
	assert.False(t, p.IsActive)
	assert.NotNil(t, p.ClosedAt)

	final, err := h.core.Trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSold, final.Status)
	// Realized proceeds of both sells count: 0.15 against a 0.1 allocation.
	assert.True(t, final.RealizedSOL.Equal(dec("0.15")), final.RealizedSOL.String())
	assert.True(t, final.PnLSOL.Equal(dec("0.05")), final.PnLSOL.String())
	assert.InDelta(t, 50.0, *final.PnLPct, 1e-9)
	assert.InDelta(t, 0.0015, *final.SellPrice, 1e-12)
	assert.Equal(t, "sell-2", final.SellTxRef)

	assert.Equal(t, []domain.EventType{
		domain.EventQueued, domain.EventApproved, domain.EventBought,
		domain.EventSellRequested, domain.EventPartialSell,
		domain.EventSellRequested, domain.EventSold,
	}, h.events(t, tr.ID))

	_, err = h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonManualClose)
	assert.ErrorIs(t, err, domain.ErrPositionNotActive)
}

func TestSettle_FinalizeScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, pos := h.bought(t, "memecoin-chat", "1000", 0.0001)
	require.True(t, tr.AllocationSOL.Equal(dec("0.1")))

	o, err := h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonTakeProfit)
	require.NoError(t, err)
	res, err := h.core.SettleSellOrder(ctx, o.ID, "sig", dec("0.25"))
	require.NoError(t, err)
	require.True(t, res.TradeFinalized)

	final, err := h.core.Trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, final.PnLSOL.Equal(dec("0.15")))
	assert.InDelta(t, 150.0, *final.PnLPct, 1e-9)
}

func TestSettle_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, pos := h.bought(t, "", "100", 1)

	o, err := h.core.CreateSellOrder(ctx, pos.ID, 50, domain.ReasonManualClose)
	require.NoError(t, err)

	first, err := h.core.SettleSellOrder(ctx, o.ID, "sig", dec("40"))
	require.NoError(t, err)
	afterFirst, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	eventsAfterFirst := h.events(t, tr.ID)

	second, err := h.core.SettleSellOrder(ctx, o.ID, "sig-retry", dec("99"))
	require.NoError(t, err)
	afterSecond, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TradeFinalized, second.TradeFinalized)
	assert.True(t, second.SellOrder.RealizedSOL.Equal(dec("40")))
	assert.Equal(t, "sig", second.SellOrder.TxRef)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, eventsAfterFirst, h.events(t, tr.ID))
}

func TestSettle_FullExitReplayReportsFinalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, pos := h.bought(t, "", "100", 1)

	o, err := h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonStopLoss)
	require.NoError(t, err)
	_, err = h.core.SettleSellOrder(ctx, o.ID, "sig", dec("0.2"))
	require.NoError(t, err)

	again, err := h.core.SettleSellOrder(ctx, o.ID, "sig", dec("0.2"))
	require.NoError(t, err)
	assert.True(t, again.TradeFinalized)

	final, err := h.core.Trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, final.PnLSOL.Equal(dec("-0.05")))
}

func TestSettle_ConcurrentRetriesDecrementOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "", "100", 1)

	o, err := h.core.CreateSellOrder(ctx, pos.ID, 25, domain.ReasonManualClose)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.core.SettleSellOrder(ctx, o.ID, "sig", dec("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, p.TokensHeld.Equal(decimal.NewFromInt(75)), p.TokensHeld.String())
}

func TestCreateSellOrder_SinglePendingPerPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "", "100", 1)

	var wg sync.WaitGroup
	results := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonTakeProfit)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, domain.ErrSellOrderPending)
		}
	}
	assert.Equal(t, 1, created)

	pending, err := h.core.ListPendingSellOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].TokensToSell.Equal(decimal.NewFromInt(100)))
}

func TestCreateSellOrder_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "", "100", 1)

	for _, pct := range []float64{0, -5, 100.5} {
		_, err := h.core.CreateSellOrder(ctx, pos.ID, pct, domain.ReasonManualClose)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "pct %v", pct)
	}
	_, err := h.core.CreateSellOrder(ctx, pos.ID, 50, "panic")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.core.CreateSellOrder(ctx, "missing", 50, domain.ReasonManualClose)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailSellOrder_FreesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, pos := h.bought(t, "", "100", 1)

	o, err := h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonTrailingStop)
	require.NoError(t, err)

	failed, err := h.core.FailSellOrder(ctx, o.ID, "route not found")
	require.NoError(t, err)
	assert.Equal(t, domain.SellFailed, failed.Status)
	again, err := h.core.FailSellOrder(ctx, o.ID, "route not found")
	require.NoError(t, err)
	assert.Equal(t, failed.FailedAt, again.FailedAt)

	_, err = h.core.SettleSellOrder(ctx, o.ID, "late", dec("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	p, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, p.TokensHeld.Equal(decimal.NewFromInt(100)))

	_, err = h.core.CreateSellOrder(ctx, pos.ID, 100, domain.ReasonTrailingStop)
	require.NoError(t, err)

	assert.Contains(t, h.events(t, tr.ID), domain.EventSellFailed)
}

func TestSettledQuantitiesNeverExceedOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, pos := h.bought(t, "", "1000", 1)

	for _, pct := range []float64{30, 50, 10, 25} {
		o, err := h.core.CreateSellOrder(ctx, pos.ID, pct, domain.ReasonManualClose)
		require.NoError(t, err)
		_, err = h.core.SettleSellOrder(ctx, o.ID, "sig", dec("0.01"))
		require.NoError(t, err)
	}

	orders, err := h.core.Sells.ListByPosition(ctx, pos.ID)
	require.NoError(t, err)
	sold := decimal.Zero
	for _, o := range orders {
		sold = sold.Add(o.TokensToSell)
	}
	p, err := h.core.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)

	assert.True(t, sold.LessThanOrEqual(p.TokensAtOpen))
	assert.True(t, sold.Add(p.TokensHeld).Equal(p.TokensAtOpen), "sold %s held %s", sold, p.TokensHeld)
	assert.True(t, p.IsActive)
}
