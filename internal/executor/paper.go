package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// FeeReserveSOL is kept in the wallet for transaction fees.
var FeeReserveSOL = decimal.RequireFromString("0.01")

// PaperConfig configures the simulated wallet.
type PaperConfig struct {
	StartingBalanceSOL decimal.Decimal
	// SlippageBps is applied against the trader on both sides.
	SlippageBps int
}

// Paper simulates swaps at the quoted price. It tracks a SOL balance and
// the tokens held per position.
type Paper struct {
	prices   domain.PriceSource
	slippage decimal.Decimal
	logger   *slog.Logger

	mu      sync.Mutex
	balance decimal.Decimal
}

// NewPaper creates a paper executor.
func NewPaper(prices domain.PriceSource, cfg PaperConfig, logger *slog.Logger) *Paper {
	return &Paper{
		prices:   prices,
		slippage: decimal.NewFromInt(int64(cfg.SlippageBps)).Div(decimal.NewFromInt(10000)),
		balance:  cfg.StartingBalanceSOL,
		logger:   logger.With(slog.String("component", "paper_executor")),
	}
}

// Balance returns the simulated SOL balance.
func (p *Paper) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Buy spends the trade allocation at the current price.
func (p *Paper) Buy(ctx context.Context, t domain.Trade) (domain.Fill, error) {
	price, err := p.quote(ctx, t.Chain, t.ContractAddress)
	if err != nil {
		return domain.Fill{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.balance.Sub(FeeReserveSOL)
	if available.LessThan(t.AllocationSOL) {
		return domain.Fill{}, fmt.Errorf("paper: need %s SOL, have %s after fee reserve: %w",
			t.AllocationSOL, available, domain.ErrInsufficientBalance)
	}

	// Slippage raises the effective entry price.
	fillPrice := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Add(p.slippage))
	tokens := t.AllocationSOL.DivRound(fillPrice, 9)
	p.balance = p.balance.Sub(t.AllocationSOL)

	fp, _ := fillPrice.Float64()
	p.logger.InfoContext(ctx, "paper: buy filled",
		slog.String("trade_id", t.ID),
		slog.String("tokens", tokens.String()),
		slog.Float64("price", fp),
	)
	return domain.Fill{
		TxRef:  "paper-" + uuid.NewString(),
		Price:  fp,
		Tokens: tokens,
	}, nil
}

// Sell liquidates the order's tokens at the current price.
func (p *Paper) Sell(ctx context.Context, pos domain.Position, o domain.SellOrder) (domain.Fill, error) {
	price, err := p.quote(ctx, pos.Chain, pos.ContractAddress)
	if err != nil {
		return domain.Fill{}, err
	}
	if o.TokensToSell.GreaterThan(pos.TokensHeld) {
		return domain.Fill{}, fmt.Errorf("paper: order %s sells %s but position holds %s: %w",
			o.ID, o.TokensToSell, pos.TokensHeld, domain.ErrInsufficientBalance)
	}

	fillPrice := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Sub(p.slippage))
	proceeds := o.TokensToSell.Mul(fillPrice).Round(9)

	p.mu.Lock()
	p.balance = p.balance.Add(proceeds)
	p.mu.Unlock()

	fp, _ := fillPrice.Float64()
	p.logger.InfoContext(ctx, "paper: sell filled",
		slog.String("sell_order_id", o.ID),
		slog.String("proceeds_sol", proceeds.String()),
		slog.Float64("price", fp),
	)
	return domain.Fill{
		TxRef:       "paper-" + uuid.NewString(),
		Price:       fp,
		Tokens:      o.TokensToSell,
		ProceedsSOL: proceeds,
	}, nil
}

func (p *Paper) quote(ctx context.Context, chain domain.Chain, addr string) (float64, error) {
	price, err := p.prices.Price(ctx, chain, addr)
	if err != nil {
		return 0, fmt.Errorf("paper: quote %s: %w", addr, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("paper: quote %s: non-positive price %v: %w", addr, price, domain.ErrInvalidInput)
	}
	return price, nil
}

var _ domain.Executor = (*Paper)(nil)
