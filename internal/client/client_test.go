package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/client"
	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/executor"
	"github.com/alanyoungcy/sniperbot/internal/server"
	"github.com/alanyoungcy/sniperbot/internal/server/handler"
	"github.com/alanyoungcy/sniperbot/internal/service"
	"github.com/alanyoungcy/sniperbot/internal/store/memory"
	"github.com/alanyoungcy/sniperbot/internal/worker"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func ptr[T any](v T) *T { return &v }

type fixedPrice float64

func (p fixedPrice) Price(context.Context, domain.Chain, string) (float64, error) {
	return float64(p), nil
}

func newRemote(t *testing.T) (*client.Client, *service.Core) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channels := service.NewChannelDirectory(nil, domain.ChannelConfig{
		ID: "default", Name: "default", AllocationSOL: 0.2, StopLossPct: ptr(-20.0), AutoSellEnabled: true,
	})
	core := service.NewCore(memory.New(), memory.NewWorkerStore(), channels, service.Hooks{}, 0, logger)
	h := server.NewHandler(server.Config{APIKey: "k"}, server.Handlers{
		Health:    handler.NewHealthHandler("server", nil, logger),
		Actions:   handler.NewActionHandler(core, logger),
		Trades:    handler.NewTradeHandler(core.Trades, logger),
		Positions: handler.NewPositionHandler(core.Positions, core.Sells, logger),
		Workers:   handler.NewWorkerHandler(core.Liveness, logger),
	}, server.Deps{}, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithAPIKey("k")), core
}

func TestClient_ErrorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newRemote(t)

	first, err := c.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana})
	require.NoError(t, err)

	_, err = c.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana})
	require.ErrorIs(t, err, domain.ErrDuplicateTrade)
	var dup *domain.DuplicateTradeError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.ExistingID)

	_, err = c.ReportBought(ctx, first.ID, domain.BoughtReport{TxRef: "tx", TokensReceived: decimal.NewFromInt(1), BuyPrice: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = c.AdvanceToPendingBuy(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: "not-an-address", Chain: domain.ChainSolana})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	unauth := client.New(c.BaseURL())
	_, err = unauth.ListPendingAdmission(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClient_WorkerOverHTTP(t *testing.T) {
	ctx := context.Background()
	c, core := newRemote(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tr, err := c.QueueTrade(ctx, domain.QueueTradeRequest{ContractAddress: bonk, Chain: domain.ChainSolana, SourceMessage: "gm"})
	require.NoError(t, err)

	paper := executor.NewPaper(fixedPrice(0.01), executor.PaperConfig{StartingBalanceSOL: decimal.NewFromInt(1)}, logger)
	w := worker.New(worker.Config{Name: "remote", AutoApprove: true, AdmissionEnabled: true}, c, fixedPrice(0.007), paper, logger)

	require.NoError(t, w.AdmitOnce(ctx))
	got, err := core.Trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TradeBought, got.Status)
	assert.True(t, got.TokensReceived.Equal(decimal.NewFromInt(20)))

	// 0.007 against an entry of 0.01 is -30%, past the -20% stop.
	require.NoError(t, w.MonitorOnce(ctx))
	orders, err := c.ListPendingSellOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.ReasonStopLoss, orders[0].Reason)

	require.NoError(t, w.SellOnce(ctx))
	got, err = core.Trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSold, got.Status)

	require.NoError(t, w.HeartbeatOnce(ctx))
	online, err := core.Liveness.IsOnline(ctx, "remote", time.Now())
	require.NoError(t, err)
	assert.True(t, online)
}
