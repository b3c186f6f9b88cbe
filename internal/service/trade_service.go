package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// TradeService owns the trade state machine: admission, approval, buy and
// failure reports, and cancellation. Every transition appends one ledger
// event inside the same transaction.
type TradeService struct {
	storage  domain.Storage
	channels domain.ChannelDirectory
	hooks    Hooks
	now      func() time.Time
	logger   *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(
	storage domain.Storage,
	channels domain.ChannelDirectory,
	hooks Hooks,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		storage:  storage,
		channels: channels,
		hooks:    hooks,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// Queue admits a candidate trade in pending_sigma. It fails with a
// *domain.DuplicateTradeError when the contract already has an open trade.
func (s *TradeService) Queue(ctx context.Context, req domain.QueueTradeRequest) (domain.Trade, error) {
	chain, err := domain.ParseChain(string(req.Chain))
	if err != nil {
		s.hooks.Metrics.TradeRejected("invalid")
		return domain.Trade{}, fmt.Errorf("trade_service: queue: %w", err)
	}
	if chain == "" {
		chain = domain.DetectChain(req.ContractAddress)
	}
	addr, err := domain.NormalizeAddress(chain, req.ContractAddress)
	if err != nil {
		s.hooks.Metrics.TradeRejected("invalid")
		return domain.Trade{}, fmt.Errorf("trade_service: queue: %w", err)
	}

	cfg, err := s.channels.Resolve(ctx, req.ChannelID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: resolve channel %q: %w", req.ChannelID, err)
	}
	alloc := decimal.NewFromFloat(cfg.AllocationSOL)
	if !alloc.IsPositive() {
		s.hooks.Metrics.TradeRejected("invalid")
		return domain.Trade{}, fmt.Errorf("trade_service: queue: %w: channel %q has no allocation", domain.ErrInvalidInput, cfg.Name)
	}

	now := s.now().UTC()
	t := domain.Trade{
		ID:              uuid.NewString(),
		ContractAddress: addr,
		Chain:           chain,
		ChannelID:       req.ChannelID,
		ChannelName:     cfg.Name,
		SourceMessage:   domain.TruncateMessage(req.SourceMessage),
		AllocationSOL:   alloc,
		Status:          domain.TradePendingSigma,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var lg *ledger
	err = retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			if err := tx.Trades.Create(ctx, t); err != nil {
				return err
			}
			return lg.append(ctx, t.ID, domain.EventQueued, map[string]any{
				"contract_address": t.ContractAddress,
				"chain":            string(t.Chain),
				"channel":          t.ChannelName,
				"allocation_sol":   t.AllocationSOL.String(),
			}, now)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTrade) {
			s.hooks.Metrics.TradeRejected("duplicate")
			s.logger.InfoContext(ctx, "trade_service: duplicate admission",
				slog.String("contract_address", addr),
				slog.String("chain", string(chain)),
			)
		}
		return domain.Trade{}, fmt.Errorf("trade_service: queue: %w", err)
	}

	s.hooks.Metrics.TradeQueued(string(chain))
	s.after(ctx, t, lg)
	s.logger.InfoContext(ctx, "trade_service: trade queued",
		slog.String("trade_id", t.ID),
		slog.String("contract_address", addr),
		slog.String("channel", cfg.Name),
		slog.String("allocation_sol", alloc.String()),
	)
	return t, nil
}

// Get returns a trade by ID.
func (s *TradeService) Get(ctx context.Context, id string) (domain.Trade, error) {
	t, err := s.storage.Stores().Trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get %s: %w", id, err)
	}
	return t, nil
}

// List returns trades, optionally filtered by status.
func (s *TradeService) List(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	trades := s.storage.Stores().Trades
	var (
		out []domain.Trade
		err error
	)
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("trade_service: list: %w: unknown status %q", domain.ErrInvalidInput, status)
		}
		out, err = trades.ListByStatus(ctx, status, opts)
	} else {
		out, err = trades.List(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("trade_service: list: %w", err)
	}
	return out, nil
}

// Events returns the ledger of a trade.
func (s *TradeService) Events(ctx context.Context, id string) ([]domain.TradeEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.storage.Stores().Events.ListByTrade(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trade_service: events %s: %w", id, err)
	}
	return events, nil
}

// ListPendingAdmission returns trades waiting for approval, oldest first.
func (s *TradeService) ListPendingAdmission(ctx context.Context) ([]domain.Trade, error) {
	out, err := s.storage.Stores().Trades.ListByStatus(ctx, domain.TradePendingSigma, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("trade_service: list pending admission: %w", err)
	}
	return out, nil
}

// ListPendingBuys returns approved trades awaiting execution, oldest first.
func (s *TradeService) ListPendingBuys(ctx context.Context) ([]domain.Trade, error) {
	out, err := s.storage.Stores().Trades.ListByStatus(ctx, domain.TradePendingBuy, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("trade_service: list pending buys: %w", err)
	}
	return out, nil
}

// Approve moves a trade to pending_buy. Approving a pending_buy trade is a
// no-op.
func (s *TradeService) Approve(ctx context.Context, id string) (domain.Trade, error) {
	return s.transition(ctx, id, domain.TradePendingBuy, func(t *domain.Trade, now time.Time) (map[string]any, bool) {
		if t.Status == domain.TradePendingBuy {
			return nil, false
		}
		t.ApprovedAt = &now
		return map[string]any{}, true
	})
}

// ReportFailed marks a pending trade as failed.
func (s *TradeService) ReportFailed(ctx context.Context, id, message string) (domain.Trade, error) {
	t, err := s.transition(ctx, id, domain.TradeFailed, func(t *domain.Trade, now time.Time) (map[string]any, bool) {
		t.FailedAt = &now
		t.FailureReason = message
		return map[string]any{"error": message}, true
	})
	if err == nil {
		s.hooks.notify(ctx, s.logger, "trade_failed", "Buy failed",
			fmt.Sprintf("%s (%s): %s", t.ContractAddress, t.ChannelName, message))
	}
	return t, err
}

// Cancel withdraws a trade that has not been bought yet.
func (s *TradeService) Cancel(ctx context.Context, id string) (domain.Trade, error) {
	return s.transition(ctx, id, domain.TradeCancelled, func(t *domain.Trade, now time.Time) (map[string]any, bool) {
		t.CancelledAt = &now
		return map[string]any{"previous_status": string(t.Status)}, true
	})
}

// transition applies a guarded status change. mutate may return false to
// signal an idempotent no-op, in which case nothing is written.
func (s *TradeService) transition(
	ctx context.Context,
	id string,
	to domain.TradeStatus,
	mutate func(t *domain.Trade, now time.Time) (map[string]any, bool),
) (domain.Trade, error) {
	var (
		out     domain.Trade
		lg      *ledger
		changed bool
	)
	err := retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			t, err := tx.Trades.GetByID(ctx, id)
			if err != nil {
				return err
			}
			from := t.Status
			now := s.now().UTC()

			payload, write := mutate(&t, now)
			if !write {
				out, changed = t, false
				return nil
			}
			if !from.CanTransitionTo(to) {
				return &domain.TransitionError{TradeID: id, From: from, To: to}
			}
			t.Status = to
			t.UpdatedAt = now
			if err := tx.Trades.Transition(ctx, t, from); err != nil {
				return err
			}
			if err := lg.append(ctx, id, eventFor(to), payload, now); err != nil {
				return err
			}
			out, changed = t, true
			return nil
		})
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: %s %s: %w", to, id, err)
	}
	if changed {
		s.hooks.Metrics.Transition(string(to))
		s.after(ctx, out, lg)
		s.logger.InfoContext(ctx, "trade_service: trade transitioned",
			slog.String("trade_id", id),
			slog.String("status", string(to)),
		)
	}
	return out, nil
}

// ReportBought records a successful buy and opens the position, copying the
// channel's exit thresholds as they are right now.
func (s *TradeService) ReportBought(ctx context.Context, id string, r domain.BoughtReport) (domain.Trade, error) {
	if !r.TokensReceived.IsPositive() {
		return domain.Trade{}, fmt.Errorf("trade_service: report bought %s: %w: tokens_received must be positive", id, domain.ErrInvalidInput)
	}
	if r.BuyPrice < 0 {
		return domain.Trade{}, fmt.Errorf("trade_service: report bought %s: %w: negative buy_price", id, domain.ErrInvalidInput)
	}

	var (
		out domain.Trade
		pos domain.Position
		lg  *ledger
	)
	err := retryOnConflict(ctx, func() error {
		return s.storage.InTx(ctx, func(ctx context.Context, tx domain.Stores) error {
			lg = &ledger{tx: tx.Events}
			if _, err := tx.Positions.GetByTradeID(ctx, id); err == nil {
				return domain.ErrPositionAlreadyExists
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}

			t, err := tx.Trades.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if t.Status != domain.TradePendingBuy {
				return &domain.TransitionError{TradeID: id, From: t.Status, To: domain.TradeBought}
			}
			cfg, err := s.channels.Resolve(ctx, t.ChannelID)
			if err != nil {
				return fmt.Errorf("resolve channel %q: %w", t.ChannelID, err)
			}

			now := s.now().UTC()
			price := r.BuyPrice
			t.Status = domain.TradeBought
			t.BoughtAt = &now
			t.BuyPrice = &price
			t.BuyTxRef = r.TxRef
			t.TokensReceived = r.TokensReceived
			t.Token = r.Token
			t.UpdatedAt = now
			if err := tx.Trades.Transition(ctx, t, domain.TradePendingBuy); err != nil {
				return err
			}

			pos = openPosition(t, cfg, r, now)
			if err := tx.Positions.Create(ctx, pos); err != nil {
				return err
			}
			if err := lg.append(ctx, id, domain.EventBought, map[string]any{
				"tx_ref":          r.TxRef,
				"tokens_received": r.TokensReceived.String(),
				"buy_price":       r.BuyPrice,
				"position_id":     pos.ID,
				"symbol":          r.Token.Symbol,
			}, now); err != nil {
				return err
			}
			out = t
			return nil
		})
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: report bought %s: %w", id, err)
	}

	s.hooks.Metrics.Transition(string(domain.TradeBought))
	s.after(ctx, out, lg)
	s.hooks.publish(ctx, s.logger, domain.ChannelPositions, positionPayload("position_opened", pos))
	s.hooks.notify(ctx, s.logger, "trade_bought", "Bought "+symbolOr(out),
		fmt.Sprintf("%s tokens at %g SOL (%s)", out.TokensReceived.String(), r.BuyPrice, out.ChannelName))
	s.logger.InfoContext(ctx, "trade_service: trade bought",
		slog.String("trade_id", id),
		slog.String("position_id", pos.ID),
		slog.Float64("buy_price", r.BuyPrice),
		slog.String("tokens", r.TokensReceived.String()),
	)
	return out, nil
}

func openPosition(t domain.Trade, cfg domain.ChannelConfig, r domain.BoughtReport, now time.Time) domain.Position {
	p := domain.Position{
		ID:              uuid.NewString(),
		TradeID:         t.ID,
		ContractAddress: t.ContractAddress,
		Chain:           t.Chain,
		EntryPrice:      r.BuyPrice,
		TokensAtOpen:    r.TokensReceived,
		TokensHeld:      r.TokensReceived,
		HighestPrice:    r.BuyPrice,
		LowestPrice:     r.BuyPrice,
		CurrentPrice:    r.BuyPrice,
		TakeProfitPct:   copyPct(cfg.TakeProfitPct),
		TrailingStopPct: copyPct(cfg.TrailingStopPct),
		AutoSellEnabled: cfg.AutoSellEnabled,
		IsActive:        true,
		Version:         1,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	if cfg.StopLossPct != nil {
		sl := -abs(*cfg.StopLossPct)
		p.StopLossPct = &sl
	}
	if cfg.MaxHoldMinutes > 0 {
		until := now.Add(time.Duration(cfg.MaxHoldMinutes) * time.Minute)
		p.MaxHoldUntil = &until
	}
	return p
}

func (s *TradeService) after(ctx context.Context, t domain.Trade, lg *ledger) {
	s.hooks.publish(ctx, s.logger, domain.ChannelTrades, tradePayload(t))
	if lg != nil {
		s.hooks.stream(ctx, s.logger, lg.events)
	}
}

func eventFor(status domain.TradeStatus) domain.EventType {
	switch status {
	case domain.TradePendingBuy:
		return domain.EventApproved
	case domain.TradeBought:
		return domain.EventBought
	case domain.TradeFailed:
		return domain.EventFailed
	case domain.TradeCancelled:
		return domain.EventCancelled
	case domain.TradeSold:
		return domain.EventSold
	default:
		return domain.EventQueued
	}
}

func tradePayload(t domain.Trade) map[string]any {
	return map[string]any{
		"event":            "trade_" + string(t.Status),
		"trade_id":         t.ID,
		"contract_address": t.ContractAddress,
		"chain":            string(t.Chain),
		"status":           string(t.Status),
		"channel":          t.ChannelName,
	}
}

func positionPayload(event string, p domain.Position) map[string]any {
	return map[string]any{
		"event":         event,
		"position_id":   p.ID,
		"trade_id":      p.TradeID,
		"tokens_held":   p.TokensHeld.String(),
		"current_price": p.CurrentPrice,
		"pnl_pct":       p.UnrealizedPnLPct,
		"is_active":     p.IsActive,
	}
}

func symbolOr(t domain.Trade) string {
	if t.Token.Symbol != "" {
		return t.Token.Symbol
	}
	return t.ContractAddress
}

func copyPct(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
