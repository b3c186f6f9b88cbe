package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// setupTestDB starts a PostgreSQL container, connects a Client and applies
// the embedded migrations.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("sniperbot"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	applied, err := client.RunMigrations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	// Applying twice is a no-op.
	applied, err = client.RunMigrations(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)

	t.Cleanup(func() {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return client
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTrade(id, addr string) domain.Trade {
	return domain.Trade{
		ID:              id,
		ContractAddress: addr,
		Chain:           domain.ChainSolana,
		ChannelName:     "memecoin-alpha",
		AllocationSOL:   decimal.RequireFromString("0.1"),
		Status:          domain.TradePendingSigma,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func newPosition(id, tradeID string, tokens string) domain.Position {
	tp, sl := 50.0, -20.0
	n := decimal.RequireFromString(tokens)
	return domain.Position{
		ID:              id,
		TradeID:         tradeID,
		ContractAddress: "mint-" + tradeID,
		Chain:           domain.ChainSolana,
		EntryPrice:      1.0,
		TokensAtOpen:    n,
		TokensHeld:      n,
		HighestPrice:    1.0,
		LowestPrice:     1.0,
		CurrentPrice:    1.0,
		TakeProfitPct:   &tp,
		StopLossPct:     &sl,
		AutoSellEnabled: true,
		IsActive:        true,
		OpenedAt:        testNow,
		UpdatedAt:       testNow,
	}
}

// buy moves a freshly created trade to bought so a position may reference it.
func buy(t *testing.T, ctx context.Context, s domain.TradeStore, tr domain.Trade) domain.Trade {
	t.Helper()
	tr.Status = domain.TradePendingBuy
	require.NoError(t, s.Transition(ctx, tr, domain.TradePendingSigma))
	tr.Status = domain.TradeBought
	require.NoError(t, s.Transition(ctx, tr, domain.TradePendingBuy))
	return tr
}
