package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SellService creates and settles sell orders. It is the only writer of a
// position's token balance and the only caller of trade finalization.
type SellService struct {
	storage domain.Storage
	hooks   Hooks
	now     func() time.Time
	logger  *slog.Logger
}

// NewSellService creates a SellService.
func NewSellService(storage domain.Storage, hooks Hooks, logger *slog.Logger) *SellService {
	return &SellService{
		storage: storage,
		hooks:   hooks,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "sell_service")),
	}
}

// Get returns a sell order by ID.
func (s *SellService) Get(ctx context.Context, id string) (domain.SellOrder, error) {
	o, err := s.storage.Stores().SellOrders.GetByID(ctx, id)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("sell_service: get %s: %w", id, err)
	}
	return o, nil
}

// ListPending returns pending sell orders, oldest first.
func (s *SellService) ListPending(ctx context.Context) ([]domain.SellOrder, error) {
	out, err := s.storage.Stores().SellOrders.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("sell_service: list pending: %w", err)
	}
	return out, nil
}

// ListByPosition returns all sell orders of a position.
func (s *SellService) ListByPosition(ctx context.Context, positionID string) ([]domain.SellOrder, error) {
	out, err := s.storage.Stores().SellOrders.ListByPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("sell_service: list by position %s: %w", positionID, err)
	}
	return out, nil
}

// Create requests a sale of pct percent of the position's current balance.
// The token quantity is fixed now. A position has at most one pending order;
// a second request fails with *domain.SellOrderPendingError.
func (s *SellService) Create(ctx context.Context, positionID string, pct float64, reason domain.SellReason) (domain.SellOrder, error) {
	if !(pct > 0 && pct <= 100) {
		return domain.SellOrder{}, fmt.Errorf("sell_service: create: %w: sell_pct %v outside (0,100]", domain.ErrInvalidInput, pct)
	}
	if !reason.Valid() {
		return domain.SellOrder{}, fmt.Errorf("sell_service: create: %w: reason %q", domain.ErrInvalidInput, reason)
	}

	unlock, err := s.hooks.lockPosition(ctx, positionID)
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("sell_service: create: %w", err)
	}
	defer unlock()

	var (
		out domain.SellOrder
		lg  *ledger
	)
	err = retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			p, err := tx.Positions.GetByID(ctx, positionID)
			if err != nil {
				return err
			}
			if !p.IsActive {
				return domain.ErrPositionNotActive
			}

			tokens := p.TokensHeld
			if pct < 100 {
				tokens = p.TokensHeld.Mul(decimal.NewFromFloat(pct)).Div(hundred)
			}
			if !tokens.IsPositive() {
				return fmt.Errorf("%w: nothing left to sell", domain.ErrInvalidInput)
			}

			now := s.now().UTC()
			o := domain.SellOrder{
				ID:           uuid.NewString(),
				PositionID:   p.ID,
				TradeID:      p.TradeID,
				SellPct:      pct,
				TokensToSell: tokens,
				Reason:       reason,
				Status:       domain.SellPending,
				RealizedSOL:  decimal.Zero,
				CreatedAt:    now,
			}
			if err := tx.SellOrders.Create(ctx, o); err != nil {
				return err
			}
			// Bumping the version makes a concurrent settlement of an
			// earlier order conflict instead of leaving this read stale.
			p.UpdatedAt = now
			if _, err := tx.Positions.Update(ctx, p); err != nil {
				return err
			}
			if err := lg.append(ctx, p.TradeID, domain.EventSellRequested, map[string]any{
				"sell_order_id":  o.ID,
				"sell_pct":       pct,
				"tokens_to_sell": tokens.String(),
				"reason":         string(reason),
			}, now); err != nil {
				return err
			}
			out = o
			return nil
		})
	})
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("sell_service: create for position %s: %w", positionID, err)
	}

	s.hooks.Metrics.ExitTriggered(string(reason))
	s.hooks.publish(ctx, s.logger, domain.ChannelSellOrders, sellOrderPayload("sell_requested", out))
	s.hooks.stream(ctx, s.logger, lg.events)
	if reason != domain.ReasonManualClose {
		s.hooks.notify(ctx, s.logger, "exit_triggered", "Exit: "+string(reason),
			fmt.Sprintf("position %s selling %g%% (%s tokens)", positionID, pct, out.TokensToSell.String()))
	}
	s.logger.InfoContext(ctx, "sell_service: sell order created",
		slog.String("sell_order_id", out.ID),
		slog.String("position_id", positionID),
		slog.Float64("sell_pct", pct),
		slog.String("reason", string(reason)),
		slog.String("tokens_to_sell", out.TokensToSell.String()),
	)
	return out, nil
}

// Settle records the execution of a sell order. Settling an executed order
// again returns the stored outcome and changes nothing. The settlement that
// empties the position, or any 100% order, deactivates the position and
// finalizes the trade from the sum of all executed orders.
func (s *SellService) Settle(ctx context.Context, id, txRef string, realized decimal.Decimal) (domain.Settlement, error) {
	if realized.IsNegative() {
		return domain.Settlement{}, fmt.Errorf("sell_service: settle %s: %w: negative realized amount", id, domain.ErrInvalidInput)
	}
	order, err := s.Get(ctx, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if order.Status == domain.SellExecuted {
		s.hooks.Metrics.SellSettled("replay")
		return domain.Settlement{SellOrder: order, TradeFinalized: order.ClosedPosition}, nil
	}

	unlock, err := s.hooks.lockPosition(ctx, order.PositionID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("sell_service: settle %s: %w", id, err)
	}
	defer unlock()

	var (
		out      domain.Settlement
		pos      domain.Position
		trade    domain.Trade
		replayed bool
		lg       *ledger
	)
	err = retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			o, err := tx.SellOrders.GetByID(ctx, id)
			if err != nil {
				return err
			}
			switch o.Status {
			case domain.SellExecuted:
				out = domain.Settlement{SellOrder: o, TradeFinalized: o.ClosedPosition}
				replayed = true
				return nil
			case domain.SellFailed:
				return fmt.Errorf("%w: sell order %s already failed", domain.ErrInvalidTransition, id)
			}

			p, err := tx.Positions.GetByID(ctx, o.PositionID)
			if err != nil {
				return err
			}
			if !p.IsActive {
				return domain.ErrPositionNotActive
			}

			now := s.now().UTC()
			held := p.TokensHeld.Sub(o.TokensToSell)
			if held.IsNegative() {
				held = decimal.Zero
			}
			full := !held.IsPositive() || o.SellPct >= 100

			o.Status = domain.SellExecuted
			o.RealizedSOL = realized
			o.TxRef = txRef
			o.ExecutedAt = &now
			o.ClosedPosition = full
			if err := tx.SellOrders.Settle(ctx, o); err != nil {
				return err
			}

			p.TokensHeld = held
			p.UpdatedAt = now
			if full {
				p.IsActive = false
				p.ClosedAt = &now
			}
			if pos, err = tx.Positions.Update(ctx, p); err != nil {
				return err
			}

			if full {
				if trade, err = finalizeSold(ctx, tx, lg, pos, o, now); err != nil {
					return err
				}
			} else if err := lg.append(ctx, o.TradeID, domain.EventPartialSell, map[string]any{
				"sell_order_id":    o.ID,
				"tokens_sold":      o.TokensToSell.String(),
				"realized_sol":     realized.String(),
				"tokens_remaining": held.String(),
				"tx_ref":           txRef,
			}, now); err != nil {
				return err
			}
			out = domain.Settlement{SellOrder: o, TradeFinalized: full}
			replayed = false
			return nil
		})
	})
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("sell_service: settle %s: %w", id, err)
	}
	if replayed {
		s.hooks.Metrics.SellSettled("replay")
		return out, nil
	}

	s.hooks.publish(ctx, s.logger, domain.ChannelSellOrders, sellOrderPayload("sell_executed", out.SellOrder))
	s.hooks.publish(ctx, s.logger, domain.ChannelPositions, positionPayload("position_updated", pos))
	s.hooks.stream(ctx, s.logger, lg.events)
	if out.TradeFinalized {
		s.hooks.Metrics.SellSettled("full")
		s.hooks.Metrics.Transition(string(domain.TradeSold))
		pnlPct := 0.0
		if trade.PnLPct != nil {
			pnlPct = *trade.PnLPct
		}
		s.hooks.Metrics.TradeFinalized(pnlPct)
		s.hooks.publish(ctx, s.logger, domain.ChannelTrades, tradePayload(trade))
		s.hooks.notify(ctx, s.logger, "trade_sold", "Sold "+symbolOr(trade),
			fmt.Sprintf("realized %s SOL, pnl %s SOL (%.2f%%)", trade.RealizedSOL.String(), trade.PnLSOL.String(), pnlPct))
	} else {
		s.hooks.Metrics.SellSettled("partial")
	}
	s.logger.InfoContext(ctx, "sell_service: sell order settled",
		slog.String("sell_order_id", id),
		slog.String("position_id", pos.ID),
		slog.String("realized_sol", realized.String()),
		slog.String("tokens_held", pos.TokensHeld.String()),
		slog.Bool("trade_finalized", out.TradeFinalized),
	)
	return out, nil
}

// finalizeSold closes the trade from the cumulative proceeds of the
// position. The status compare-and-set guarantees a single winner.
func finalizeSold(ctx context.Context, tx domain.Stores, lg *ledger, p domain.Position, o domain.SellOrder, now time.Time) (domain.Trade, error) {
	realized, sold, err := tx.SellOrders.SumExecuted(ctx, p.ID)
	if err != nil {
		return domain.Trade{}, err
	}
	t, err := tx.Trades.GetByID(ctx, p.TradeID)
	if err != nil {
		return domain.Trade{}, err
	}
	if t.Status != domain.TradeBought {
		return domain.Trade{}, &domain.TransitionError{TradeID: t.ID, From: t.Status, To: domain.TradeSold}
	}

	pnl := realized.Sub(t.AllocationSOL)
	pnlPct := pnl.Div(t.AllocationSOL).Mul(hundred).InexactFloat64()
	t.Status = domain.TradeSold
	t.RealizedSOL = realized
	t.PnLSOL = &pnl
	t.PnLPct = &pnlPct
	t.SellTxRef = o.TxRef
	t.SoldAt = &now
	t.UpdatedAt = now
	if sold.IsPositive() {
		avg := realized.Div(sold).InexactFloat64()
		t.SellPrice = &avg
	}
	if err := tx.Trades.Transition(ctx, t, domain.TradeBought); err != nil {
		return domain.Trade{}, err
	}
	if err := lg.append(ctx, t.ID, domain.EventSold, map[string]any{
		"sell_order_id": o.ID,
		"reason":        string(o.Reason),
		"realized_sol":  realized.String(),
		"tokens_sold":   sold.String(),
		"pnl_sol":       pnl.String(),
		"pnl_pct":       pnlPct,
		"tx_ref":        o.TxRef,
	}, now); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

// Fail marks a pending sell order as failed and frees the position for a
// new order. Failing a failed order is a no-op.
func (s *SellService) Fail(ctx context.Context, id, message string) (domain.SellOrder, error) {
	var (
		out     domain.SellOrder
		lg      *ledger
		changed bool
	)
	err := retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			o, err := tx.SellOrders.GetByID(ctx, id)
			if err != nil {
				return err
			}
			switch o.Status {
			case domain.SellFailed:
				out, changed = o, false
				return nil
			case domain.SellExecuted:
				return fmt.Errorf("%w: sell order %s already executed", domain.ErrInvalidTransition, id)
			}
			now := s.now().UTC()
			o.Status = domain.SellFailed
			o.FailureReason = message
			o.FailedAt = &now
			if err := tx.SellOrders.Settle(ctx, o); err != nil {
				return err
			}
			if err := lg.append(ctx, o.TradeID, domain.EventSellFailed, map[string]any{
				"sell_order_id": o.ID,
				"error":         message,
			}, now); err != nil {
				return err
			}
			out, changed = o, true
			return nil
		})
	})
	if err != nil {
		return domain.SellOrder{}, fmt.Errorf("sell_service: fail %s: %w", id, err)
	}
	if changed {
		s.hooks.Metrics.SellSettled("failed")
		s.hooks.publish(ctx, s.logger, domain.ChannelSellOrders, sellOrderPayload("sell_failed", out))
		s.hooks.stream(ctx, s.logger, lg.events)
		s.logger.WarnContext(ctx, "sell_service: sell order failed",
			slog.String("sell_order_id", id),
			slog.String("error", message),
		)
	}
	return out, nil
}

func sellOrderPayload(event string, o domain.SellOrder) map[string]any {
	return map[string]any{
		"event":          event,
		"sell_order_id":  o.ID,
		"position_id":    o.PositionID,
		"trade_id":       o.TradeID,
		"sell_pct":       o.SellPct,
		"tokens_to_sell": o.TokensToSell.String(),
		"reason":         string(o.Reason),
		"status":         string(o.Status),
		"realized_sol":   o.RealizedSOL.String(),
	}
}
