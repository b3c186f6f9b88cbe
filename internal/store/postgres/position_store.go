package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	q querier
}

const positionSelectCols = `id, trade_id, contract_address, chain, entry_price,
	tokens_at_open, tokens_held, highest_price, lowest_price, current_price,
	unrealized_pnl_sol, unrealized_pnl_pct, take_profit_pct, stop_loss_pct,
	trailing_stop_pct, max_hold_until, auto_sell_enabled, is_active, version,
	opened_at, closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p     domain.Position
		chain string
	)
	err := row.Scan(
		&p.ID, &p.TradeID, &p.ContractAddress, &chain, &p.EntryPrice,
		&p.TokensAtOpen, &p.TokensHeld, &p.HighestPrice, &p.LowestPrice, &p.CurrentPrice,
		&p.UnrealizedPnLSOL, &p.UnrealizedPnLPct, &p.TakeProfitPct, &p.StopLossPct,
		&p.TrailingStopPct, &p.MaxHoldUntil, &p.AutoSellEnabled, &p.IsActive, &p.Version,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Chain = domain.Chain(chain)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a position. The unique trade_id column rejects a second
// position for the same trade.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, trade_id, contract_address, chain, entry_price,
			tokens_at_open, tokens_held, highest_price, lowest_price, current_price,
			unrealized_pnl_sol, unrealized_pnl_pct, take_profit_pct, stop_loss_pct,
			trailing_stop_pct, max_hold_until, auto_sell_enabled, is_active, version,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22
		)
		ON CONFLICT (trade_id) DO NOTHING`

	version := p.Version
	if version == 0 {
		version = 1
	}
	tag, err := s.q.Exec(ctx, query,
		p.ID, p.TradeID, p.ContractAddress, string(p.Chain), p.EntryPrice,
		p.TokensAtOpen, p.TokensHeld, p.HighestPrice, p.LowestPrice, p.CurrentPrice,
		p.UnrealizedPnLSOL, p.UnrealizedPnLPct, p.TakeProfitPct, p.StopLossPct,
		p.TrailingStopPct, p.MaxHoldUntil, p.AutoSellEnabled, p.IsActive, version,
		p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionAlreadyExists
	}
	return nil
}

// GetByID retrieves a position by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return s.getOne(ctx, `WHERE id = $1`, id)
}

// GetByTradeID retrieves the position owned by a trade.
func (s *PositionStore) GetByTradeID(ctx context.Context, tradeID string) (domain.Position, error) {
	return s.getOne(ctx, `WHERE trade_id = $1`, tradeID)
}

func (s *PositionStore) getOne(ctx context.Context, where string, arg string) (domain.Position, error) {
	p, err := scanPosition(s.q.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", arg, err)
	}
	return p, nil
}

// ListActive returns active positions, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	return s.List(ctx, true, domain.ListOpts{})
}

// List returns positions ordered by open time.
func (s *PositionStore) List(ctx context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.Position, error) {
	base := `SELECT ` + positionSelectCols + ` FROM positions WHERE TRUE`
	if activeOnly {
		base += ` AND is_active`
	}
	query, args := listQuery(base, nil, "opened_at", "ASC", opts)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// Update writes p when the stored version still equals p.Version and
// returns it with the incremented version.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) (domain.Position, error) {
	const query = `
		UPDATE positions SET
			tokens_held        = $3,
			highest_price      = $4,
			lowest_price       = $5,
			current_price      = $6,
			unrealized_pnl_sol = $7,
			unrealized_pnl_pct = $8,
			is_active          = $9,
			closed_at          = $10,
			updated_at         = $11,
			version            = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`

	var next int64
	err := s.q.QueryRow(ctx, query,
		p.ID, p.Version,
		p.TokensHeld, p.HighestPrice, p.LowestPrice, p.CurrentPrice,
		p.UnrealizedPnLSOL, p.UnrealizedPnLPct,
		p.IsActive, p.ClosedAt, p.UpdatedAt,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetByID(ctx, p.ID); getErr != nil {
			return domain.Position{}, getErr
		}
		return domain.Position{}, fmt.Errorf("postgres: position %s version %d is stale: %w", p.ID, p.Version, domain.ErrConflict)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", p.ID, mapErr(err))
	}
	p.Version = next
	return p, nil
}
