// Package executor performs buys and sells for the worker. Live on-chain
// signing is out of scope; the Paper executor simulates fills against a
// price source and a SOL wallet balance.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// Journaled wraps an Executor so that a buy or sell that already filled is
// not repeated when the worker retries a report that failed to land.
type Journaled struct {
	inner   domain.Executor
	journal *Journal
	logger  *slog.Logger
}

// NewJournaled wraps inner with a journal whose entries live for ttl.
func NewJournaled(inner domain.Executor, ttl time.Duration, logger *slog.Logger) *Journaled {
	return &Journaled{
		inner:   inner,
		journal: NewJournal(ttl),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

func buyKey(tradeID string) string  { return "buy:" + tradeID }
func sellKey(orderID string) string { return "sell:" + orderID }

// Buy returns the journaled fill for the trade or executes a new buy.
func (j *Journaled) Buy(ctx context.Context, t domain.Trade) (domain.Fill, error) {
	if fill, ok := j.journal.Lookup(buyKey(t.ID)); ok {
		j.logger.InfoContext(ctx, "executor: replaying journaled buy", slog.String("trade_id", t.ID))
		return fill, nil
	}
	fill, err := j.inner.Buy(ctx, t)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: buy %s: %w", t.ID, err)
	}
	j.journal.Record(buyKey(t.ID), fill)
	return fill, nil
}

// Sell returns the journaled fill for the order or executes a new sell.
func (j *Journaled) Sell(ctx context.Context, p domain.Position, o domain.SellOrder) (domain.Fill, error) {
	if fill, ok := j.journal.Lookup(sellKey(o.ID)); ok {
		j.logger.InfoContext(ctx, "executor: replaying journaled sell", slog.String("sell_order_id", o.ID))
		return fill, nil
	}
	fill, err := j.inner.Sell(ctx, p, o)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: sell %s: %w", o.ID, err)
	}
	j.journal.Record(sellKey(o.ID), fill)
	return fill, nil
}

// BuyReported releases the journaled buy of a trade.
func (j *Journaled) BuyReported(tradeID string) { j.journal.Forget(buyKey(tradeID)) }

// SellReported releases the journaled sell of an order.
func (j *Journaled) SellReported(orderID string) { j.journal.Forget(sellKey(orderID)) }

// Run expires journal entries until ctx is cancelled.
func (j *Journaled) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.journal.Cleanup()
		}
	}
}

var _ domain.Executor = (*Journaled)(nil)
