// Package worker drives the trade lifecycle on a fixed schedule: admitting
// and buying queued trades, pricing open positions, executing sell orders and
// reporting liveness. It talks to the core only through domain.Protocol, so
// it runs the same in-process or against a remote server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// Config controls the loop cadence.
type Config struct {
	Name              string
	AdmissionInterval time.Duration
	MonitorInterval   time.Duration
	SellInterval      time.Duration
	HeartbeatInterval time.Duration
	Concurrency       int
	// AutoApprove advances pending_sigma trades without an operator.
	AutoApprove bool
	// AdmissionEnabled runs the buy loop. Exactly one worker should have it.
	AdmissionEnabled bool
	// SellEnabled runs the sell loop. Several workers may have it only when
	// they share a lock manager.
	SellEnabled bool
	// SellClaimTTL bounds how long a claimed sell order stays reserved when
	// its settlement could not be reported.
	SellClaimTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "sniperbot-worker"
	}
	if c.AdmissionInterval <= 0 {
		c.AdmissionInterval = 2 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	if c.SellInterval <= 0 {
		c.SellInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SellClaimTTL <= 0 {
		c.SellClaimTTL = 2 * time.Minute
	}
	return c
}

// Option configures a Worker.
type Option func(*Worker)

// WithLocks makes the sell loop claim each order through locks before
// executing it, so workers sharing the lock manager never sell the same
// order twice.
func WithLocks(locks domain.LockManager) Option {
	return func(w *Worker) { w.locks = locks }
}

// acker is implemented by executors that journal fills until the result has
// been reported.
type acker interface {
	BuyReported(tradeID string)
	SellReported(orderID string)
}

// Worker polls the protocol and executes swaps.
type Worker struct {
	cfg    Config
	proto  domain.Protocol
	prices domain.PriceSource
	exec   domain.Executor
	locks  domain.LockManager
	logger *slog.Logger
	now    func() time.Time

	started time.Time
	buys    atomic.Int64
	exits   atomic.Int64
	sells   atomic.Int64
	errs    atomic.Int64
}

// New creates a Worker.
func New(cfg Config, proto domain.Protocol, prices domain.PriceSource, exec domain.Executor, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg.withDefaults(),
		proto:   proto,
		prices:  prices,
		exec:    exec,
		logger:  logger.With(slog.String("component", "worker")),
		now:     func() time.Time { return time.Now().UTC() },
		started: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts every loop and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker: starting",
		slog.String("name", w.cfg.Name),
		slog.Bool("admission", w.cfg.AdmissionEnabled),
		slog.Bool("auto_approve", w.cfg.AutoApprove),
		slog.Bool("sell", w.cfg.SellEnabled),
		slog.Bool("sell_locks", w.locks != nil),
		slog.Int("concurrency", w.cfg.Concurrency),
	)

	g, ctx := errgroup.WithContext(ctx)
	if w.cfg.AdmissionEnabled {
		g.Go(func() error { return w.every(ctx, "admission", w.cfg.AdmissionInterval, w.AdmitOnce) })
	}
	g.Go(func() error { return w.every(ctx, "monitor", w.cfg.MonitorInterval, w.MonitorOnce) })
	if w.cfg.SellEnabled {
		g.Go(func() error { return w.every(ctx, "sell", w.cfg.SellInterval, w.SellOnce) })
	}
	g.Go(func() error { return w.every(ctx, "heartbeat", w.cfg.HeartbeatInterval, w.HeartbeatOnce) })

	err := g.Wait()
	w.logger.Info("worker: stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// every runs fn immediately and then on each tick. A failed tick is logged
// and the loop continues.
func (w *Worker) every(ctx context.Context, loop string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			w.errs.Add(1)
			w.logger.ErrorContext(ctx, "worker: tick failed",
				slog.String("loop", loop),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// AdmitOnce approves queued trades when auto-approve is on, then buys every
// approved trade.
func (w *Worker) AdmitOnce(ctx context.Context) error {
	if w.cfg.AutoApprove {
		pending, err := w.proto.ListPendingAdmission(ctx)
		if err != nil {
			return fmt.Errorf("worker: list pending admission: %w", err)
		}
		w.forEach(ctx, len(pending), func(ctx context.Context, i int) {
			t := pending[i]
			if _, err := w.proto.AdvanceToPendingBuy(ctx, t.ID); err != nil {
				w.logItemErr(ctx, "worker: approve failed", "trade_id", t.ID, err)
			}
		})
	}

	buys, err := w.proto.ListPendingBuys(ctx)
	if err != nil {
		return fmt.Errorf("worker: list pending buys: %w", err)
	}
	w.forEach(ctx, len(buys), func(ctx context.Context, i int) {
		w.buy(ctx, buys[i])
	})
	return nil
}

func (w *Worker) buy(ctx context.Context, t domain.Trade) {
	fill, err := w.exec.Buy(ctx, t)
	if err != nil {
		w.logger.WarnContext(ctx, "worker: buy failed",
			slog.String("trade_id", t.ID),
			slog.String("contract", t.ContractAddress),
			slog.String("error", err.Error()),
		)
		if _, rerr := w.proto.ReportFailed(ctx, t.ID, err.Error()); rerr != nil {
			w.logItemErr(ctx, "worker: report failed", "trade_id", t.ID, rerr)
		}
		return
	}

	_, err = w.proto.ReportBought(ctx, t.ID, domain.BoughtReport{
		TxRef:          fill.TxRef,
		TokensReceived: fill.Tokens,
		BuyPrice:       fill.Price,
		Token:          fill.Token,
	})
	if err != nil {
		// The fill stays journaled so the next tick reports it again.
		w.logItemErr(ctx, "worker: report bought failed", "trade_id", t.ID, err)
		return
	}
	if a, ok := w.exec.(acker); ok {
		a.BuyReported(t.ID)
	}
	w.buys.Add(1)
	w.logger.InfoContext(ctx, "worker: bought",
		slog.String("trade_id", t.ID),
		slog.String("tx_ref", fill.TxRef),
		slog.Float64("price", fill.Price),
		slog.String("tokens", fill.Tokens.String()),
	)
}

// MonitorOnce prices every active position and raises a full sell order when
// an exit rule fires on an auto-sell position.
func (w *Worker) MonitorOnce(ctx context.Context) error {
	positions, err := w.proto.ListActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("worker: list active positions: %w", err)
	}
	w.forEach(ctx, len(positions), func(ctx context.Context, i int) {
		w.monitor(ctx, positions[i])
	})
	return nil
}

func (w *Worker) monitor(ctx context.Context, p domain.Position) {
	price, err := w.prices.Price(ctx, p.Chain, p.ContractAddress)
	if err != nil {
		w.logItemErr(ctx, "worker: price unavailable", "position_id", p.ID, err)
		return
	}
	upd, err := w.proto.UpdatePrice(ctx, p.ID, price, w.now())
	if err != nil {
		w.logItemErr(ctx, "worker: update price failed", "position_id", p.ID, err)
		return
	}
	if !upd.ShouldExit || !upd.AutoSell {
		return
	}

	pct := upd.SellPct
	if pct <= 0 {
		pct = 100
	}
	order, err := w.proto.CreateSellOrder(ctx, p.ID, pct, upd.ExitReason)
	switch {
	case errors.Is(err, domain.ErrSellOrderPending), errors.Is(err, domain.ErrPositionNotActive):
		w.logger.DebugContext(ctx, "worker: exit already in progress", slog.String("position_id", p.ID))
	case err != nil:
		w.logItemErr(ctx, "worker: create sell order failed", "position_id", p.ID, err)
	default:
		w.exits.Add(1)
		w.logger.InfoContext(ctx, "worker: sell order created",
			slog.String("position_id", p.ID),
			slog.String("sell_order_id", order.ID),
			slog.String("reason", string(upd.ExitReason)),
			slog.Float64("pnl_pct", upd.PnLPct),
		)
	}
}

// SellOnce executes every pending sell order and settles or fails it.
func (w *Worker) SellOnce(ctx context.Context) error {
	orders, err := w.proto.ListPendingSellOrders(ctx)
	if err != nil {
		return fmt.Errorf("worker: list pending sell orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	positions, err := w.proto.ListActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("worker: list active positions: %w", err)
	}
	byID := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}

	w.forEach(ctx, len(orders), func(ctx context.Context, i int) {
		o := orders[i]
		p, ok := byID[o.PositionID]
		if !ok {
			if _, err := w.proto.FailSellOrder(ctx, o.ID, "position not active"); err != nil {
				w.logItemErr(ctx, "worker: fail sell order failed", "sell_order_id", o.ID, err)
			}
			return
		}
		w.sell(ctx, p, o)
	})
	return nil
}

// claim reserves o for this worker. It reports false when another worker
// holds the order or has already settled it. Without a lock manager every
// order is claimed.
func (w *Worker) claim(ctx context.Context, o domain.SellOrder) (release func(), ok bool) {
	if w.locks == nil {
		return func() {}, true
	}
	unlock, err := w.locks.Acquire(ctx, "sell:"+o.ID, w.cfg.SellClaimTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		w.logger.DebugContext(ctx, "worker: sell order claimed elsewhere", slog.String("sell_order_id", o.ID))
		return nil, false
	}
	if err != nil {
		w.logItemErr(ctx, "worker: claim sell order failed", "sell_order_id", o.ID, err)
		return nil, false
	}

	// The listing may predate another worker's settlement.
	pending, err := w.proto.ListPendingSellOrders(ctx)
	if err != nil {
		unlock()
		w.logItemErr(ctx, "worker: recheck sell order failed", "sell_order_id", o.ID, err)
		return nil, false
	}
	for _, p := range pending {
		if p.ID == o.ID {
			return unlock, true
		}
	}
	unlock()
	return nil, false
}

func (w *Worker) sell(ctx context.Context, p domain.Position, o domain.SellOrder) {
	release, ok := w.claim(ctx, o)
	if !ok {
		return
	}
	fill, err := w.exec.Sell(ctx, p, o)
	if err != nil {
		w.logger.WarnContext(ctx, "worker: sell failed",
			slog.String("sell_order_id", o.ID),
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
		if _, ferr := w.proto.FailSellOrder(ctx, o.ID, err.Error()); ferr != nil {
			w.logItemErr(ctx, "worker: fail sell order failed", "sell_order_id", o.ID, ferr)
		}
		release()
		return
	}

	st, err := w.proto.SettleSellOrder(ctx, o.ID, fill.TxRef, fill.ProceedsSOL)
	if err != nil {
		// The claim is kept until its TTL so no other worker re-sells the
		// journaled fill.
		w.logItemErr(ctx, "worker: settle failed", "sell_order_id", o.ID, err)
		return
	}
	release()
	if a, ok := w.exec.(acker); ok {
		a.SellReported(o.ID)
	}
	w.sells.Add(1)
	w.logger.InfoContext(ctx, "worker: sold",
		slog.String("sell_order_id", o.ID),
		slog.String("position_id", p.ID),
		slog.String("proceeds_sol", fill.ProceedsSOL.String()),
		slog.Bool("trade_finalized", st.TradeFinalized),
	)
}

// HeartbeatOnce reports liveness with the worker's counters.
func (w *Worker) HeartbeatOnce(ctx context.Context) error {
	meta := map[string]any{
		"uptime_s":     int64(w.now().Sub(w.started).Seconds()),
		"admission":    w.cfg.AdmissionEnabled,
		"auto_approve": w.cfg.AutoApprove,
		"sell":         w.cfg.SellEnabled,
		"buys":         w.buys.Load(),
		"exits":        w.exits.Load(),
		"sells":        w.sells.Load(),
		"errors":       w.errs.Load(),
	}
	if err := w.proto.Heartbeat(ctx, w.cfg.Name, meta); err != nil {
		return fmt.Errorf("worker: heartbeat: %w", err)
	}
	return nil
}

// forEach runs fn over n items with bounded concurrency. Item failures are
// handled inside fn and never abort the batch.
func (w *Worker) forEach(ctx context.Context, n int, fn func(context.Context, int)) {
	if n == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) logItemErr(ctx context.Context, msg, key, id string, err error) {
	w.errs.Add(1)
	w.logger.WarnContext(ctx, msg,
		slog.String(key, id),
		slog.String("error", err.Error()),
	)
}
