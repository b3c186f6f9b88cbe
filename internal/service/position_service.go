package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/risk"
)

// PositionService refreshes position prices and reports exit decisions.
// It never touches tokens_held; only SellService does.
type PositionService struct {
	positions domain.PositionStore
	hooks     Hooks
	now       func() time.Time
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(storage domain.Storage, hooks Hooks, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: storage.Stores().Positions,
		hooks:     hooks,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Get returns a position by ID.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	p, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns all active positions.
func (s *PositionService) ListActive(ctx context.Context) ([]domain.Position, error) {
	out, err := s.positions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list active: %w", err)
	}
	s.hooks.Metrics.SetActivePositions(len(out))
	return out, nil
}

// List returns positions, optionally only active ones.
func (s *PositionService) List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.positions.List(ctx, activeOnly, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return out, nil
}

// UpdatePrice evaluates a fresh price sample, persists the tracking fields
// and returns the exit decision. A zero now means the current time.
func (s *PositionService) UpdatePrice(ctx context.Context, id string, price float64, now time.Time) (domain.PriceUpdate, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return domain.PriceUpdate{}, fmt.Errorf("position_service: update price %s: %w: price %v", id, domain.ErrInvalidInput, price)
	}
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	var (
		out domain.PriceUpdate
		pos domain.Position
	)
	err := retryOnConflict(ctx, func() error {
		p, err := s.positions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return domain.ErrPositionNotActive
		}
		d := risk.Evaluate(p, price, now)
		p = risk.Apply(p, price, d)
		p.UpdatedAt = now
		if pos, err = s.positions.Update(ctx, p); err != nil {
			return err
		}
		out = domain.PriceUpdate{
			PositionID: id,
			PnLPct:     d.PnLPct,
			PnLSOL:     d.PnLSOL,
			ShouldExit: d.ShouldExit,
			ExitReason: d.Reason,
			SellPct:    d.SellPct,
			AutoSell:   p.AutoSellEnabled,
		}
		return nil
	})
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("position_service: update price %s: %w", id, err)
	}

	s.hooks.publish(ctx, s.logger, domain.ChannelPositions, positionPayload("position_priced", pos))
	if out.ShouldExit {
		s.logger.InfoContext(ctx, "position_service: exit triggered",
			slog.String("position_id", id),
			slog.String("reason", string(out.ExitReason)),
			slog.Float64("price", price),
			slog.Float64("pnl_pct", out.PnLPct),
		)
	}
	return out, nil
}
