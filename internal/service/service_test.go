package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/store/memory"
)

const (
	bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wif  = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
)

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	core  *Core
	db    *memory.DB
	clock time.Time
	mu    sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channels := NewChannelDirectory([]domain.ChannelConfig{
		{
			ID:              "alpha",
			Name:            "memecoin-alpha",
			Match:           []string{"alpha"},
			AllocationSOL:   0.5,
			TakeProfitPct:   ptr(100.0),
			StopLossPct:     ptr(25.0),
			TrailingStopPct: ptr(15.0),
			AutoSellEnabled: true,
		},
		{
			ID:              "chat",
			Name:            "memecoin-chat",
			Match:           []string{"chat"},
			AllocationSOL:   0.1,
			TakeProfitPct:   ptr(50.0),
			StopLossPct:     ptr(-15.0),
			TrailingStopPct: ptr(10.0),
			MaxHoldMinutes:  30,
			AutoSellEnabled: true,
		},
	}, domain.ChannelConfig{ID: "default", Name: "default", AllocationSOL: 0.25, TakeProfitPct: ptr(100.0), StopLossPct: ptr(-30.0)})

	db := memory.New()
	h := &harness{
		db:    db,
		clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.core = NewCore(db, memory.NewWorkerStore(), channels, Hooks{}, 0, logger)
	h.core.Trades.now = h.now
	h.core.Positions.now = h.now
	h.core.Sells.now = h.now
	h.core.Liveness.now = h.now
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

// bought drives a fresh trade to bought and returns it with its position.
func (h *harness) bought(t *testing.T, channel string, tokens string, price float64) (domain.Trade, domain.Position) {
	t.Helper()
	ctx := context.Background()
	tr, err := h.core.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana, ChannelID: channel})
	require.NoError(t, err)
	_, err = h.core.AdvanceToPendingBuy(ctx, tr.ID)
	require.NoError(t, err)
	tr, err = h.core.ReportBought(ctx, tr.ID, domain.BoughtReport{
		TxRef:          "buy-sig",
		TokensReceived: dec(tokens),
		BuyPrice:       price,
		Token:          domain.TokenMeta{Symbol: "BONK"},
	})
	require.NoError(t, err)
	pos, err := h.db.Stores().Positions.GetByTradeID(ctx, tr.ID)
	require.NoError(t, err)
	return tr, pos
}

func (h *harness) events(t *testing.T, tradeID string) []domain.EventType {
	t.Helper()
	evs, err := h.core.Trades.Events(context.Background(), tradeID)
	require.NoError(t, err)
	out := make([]domain.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
