package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/store/memory"
)

func TestQueue_ResolvesChannelAndNormalizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{
		ContractAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		ChannelID:       "Degen Alpha Calls",
		SourceMessage:   "new CA just dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChainBase, tr.Chain)
	assert.Equal(t, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", tr.ContractAddress)
	assert.Equal(t, "memecoin-alpha", tr.ChannelName)
	assert.True(t, tr.AllocationSOL.Equal(dec("0.5")))
	assert.Equal(t, domain.TradePendingSigma, tr.Status)
	assert.Equal(t, []domain.EventType{domain.EventQueued}, h.events(t, tr.ID))

	_, err = h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: "garbage", Chain: domain.ChainSolana})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQueue_DuplicateWhilePendingBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana})
	require.NoError(t, err)
	_, err = h.core.AdvanceToPendingBuy(ctx, first.ID)
	require.NoError(t, err)

	_, err = h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana})
	require.ErrorIs(t, err, domain.ErrDuplicateTrade)
	var dup *domain.DuplicateTradeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	// A different contract is unaffected.
	_, err = h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: wif, Chain: domain.ChainSolana})
	require.NoError(t, err)
}

func TestQueue_ReadmitAfterTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	_, err = h.core.ReportFailed(ctx, first.ID, "no route")
	require.NoError(t, err)

	second, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestQueue_ConcurrentAdmitsSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
		}
	}
	assert.Equal(t, 1, wins)

	pending, err := h.core.ListPendingAdmission(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApprove_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)

	a1, err := h.core.AdvanceToPendingBuy(ctx, tr.ID)
	require.NoError(t, err)
	h.advance(time.Minute)
	a2, err := h.core.AdvanceToPendingBuy(ctx, tr.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TradePendingBuy, a2.Status)
	assert.Equal(t, a1.ApprovedAt, a2.ApprovedAt)
	assert.Equal(t, []domain.EventType{domain.EventQueued, domain.EventApproved}, h.events(t, tr.ID))

	pending, err := h.core.ListPendingAdmission(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprove_UnknownTrade(t *testing.T) {
	h := newHarness(t)
	_, err := h.core.AdvanceToPendingBuy(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportBought_OpensPositionWithChannelThresholds(t *testing.T) {
	h := newHarness(t)

	tr, pos := h.bought(t, "memecoin-chat", "1000", 0.0001)

	assert.Equal(t, domain.TradeBought, tr.Status)
	require.NotNil(t, tr.BuyPrice)
	assert.Equal(t, 0.0001, *tr.BuyPrice)
	assert.Equal(t, "BONK", tr.Token.Symbol)

	assert.Equal(t, tr.ID, pos.TradeID)
	assert.True(t, pos.IsActive)
	assert.True(t, pos.TokensHeld.Equal(dec("1000")))
	assert.True(t, pos.TokensAtOpen.Equal(dec("1000")))
	assert.Equal(t, 0.0001, pos.EntryPrice)
	assert.Equal(t, 50.0, *pos.TakeProfitPct)
	assert.Equal(t, -15.0, *pos.StopLossPct)
	assert.Equal(t, 10.0, *pos.TrailingStopPct)
	require.NotNil(t, pos.MaxHoldUntil)
	assert.Equal(t, h.now().Add(30*time.Minute), *pos.MaxHoldUntil)
	assert.True(t, pos.AutoSellEnabled)

	assert.Equal(t, []domain.EventType{domain.EventQueued, domain.EventApproved, domain.EventBought}, h.events(t, tr.ID))
}

func TestReportBought_StopLossNormalizedNegative(t *testing.T) {
	h := newHarness(t)
	_, pos := h.bought(t, "alpha", "10", 1)
	require.NotNil(t, pos.StopLossPct)
	assert.Equal(t, -25.0, *pos.StopLossPct)
	assert.Nil(t, pos.MaxHoldUntil)
}

func TestReportBought_DuplicateCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, _ := h.bought(t, "", "100", 1)

	_, err := h.core.ReportBought(ctx, tr.ID, domain.BoughtReport{TxRef: "again", TokensReceived: dec("100"), BuyPrice: 1})
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyExists)

	positions, err := h.core.ListActivePositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Len(t, h.events(t, tr.ID), 3)
}

func TestReportBought_ConcurrentCallbacksCreateOnePosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	_, err = h.core.AdvanceToPendingBuy(ctx, tr.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.core.ReportBought(ctx, tr.ID, domain.BoughtReport{TxRef: "sig", TokensReceived: dec("5"), BuyPrice: 2})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrPositionAlreadyExists)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestReportBought_RequiresPendingBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)

	_, err = h.core.ReportBought(ctx, tr.ID, domain.BoughtReport{TokensReceived: dec("1"), BuyPrice: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.core.ReportBought(ctx, tr.ID, domain.BoughtReport{TokensReceived: dec("0"), BuyPrice: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReportFailedAndCancel_Guards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	cancelled, err := h.core.CancelTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	// Terminal states never change.
	_, err = h.core.ReportFailed(ctx, tr.ID, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.core.AdvanceToPendingBuy(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	bought, _ := h.bought(t, "", "1", 1)
	_, err = h.core.CancelTrade(ctx, bought.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.core.ReportFailed(ctx, bought.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.TradeBought, te.From)
	assert.Equal(t, domain.TradeFailed, te.To)
}

func TestReportFailed_FromPendingBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	_, err = h.core.AdvanceToPendingBuy(ctx, tr.ID)
	require.NoError(t, err)

	failed, err := h.core.ReportFailed(ctx, tr.ID, "slippage exceeded")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeFailed, failed.Status)
	assert.Equal(t, "slippage exceeded", failed.FailureReason)
	assert.Equal(t, []domain.EventType{domain.EventQueued, domain.EventApproved, domain.EventFailed}, h.events(t, tr.ID))
}

func TestList_FiltersByStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk})
	require.NoError(t, err)
	h.advance(time.Second)
	w, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: wif})
	require.NoError(t, err)
	_, err = h.core.CancelTrade(ctx, w.ID)
	require.NoError(t, err)

	all, err := h.core.Trades.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, w.ID, all[0].ID)

	cancelled, err := h.core.Trades.List(ctx, domain.TradeCancelled, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	_, err = h.core.Trades.List(ctx, "pending_sell", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// closingRaceStorage makes the first n trade inserts report that the
// conflicting open trade closed before it could be read back.
type closingRaceStorage struct {
	*memory.DB
	remaining atomic.Int32
}

func (s *closingRaceStorage) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Stores) error) error {
	return s.DB.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
		tx.Trades = closingRaceTrades{TradeStore: tx.Trades, s: s}
		return fn(ctx, tx)
	})
}

type closingRaceTrades struct {
	domain.TradeStore
	s *closingRaceStorage
}

func (c closingRaceTrades) Create(ctx context.Context, t domain.Trade) error {
	if c.s.remaining.Add(-1) >= 0 {
		return fmt.Errorf("conflicting trade closed: %w", domain.ErrConflict)
	}
	return c.TradeStore.Create(ctx, t)
}

func TestQueue_RetriesWhenConflictingTradeCloses(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channels := NewChannelDirectory(nil, domain.ChannelConfig{ID: "default", Name: "default", AllocationSOL: 0.25})

	store := &closingRaceStorage{DB: memory.New()}
	store.remaining.Store(2)
	core := NewCore(store, memory.NewWorkerStore(), channels, Hooks{}, 0, logger)

	tr, err := core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, ChannelID: "default"})
	require.NoError(t, err)
	assert.Equal(t, domain.TradePendingSigma, tr.Status)

	open, err := store.Stores().Trades.FindOpen(ctx, bonk, domain.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, open.ID)

	events, err := store.Stores().Events.ListByTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	store.remaining.Store(maxConflictRetries)
	_, err = core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: wif, ChannelID: "default"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}
