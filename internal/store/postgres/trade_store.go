package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	q querier
}

const tradeSelectCols = `id, contract_address, chain, channel_id, channel_name, source_message,
	allocation_sol, status, buy_price, sell_price, buy_tx_ref, sell_tx_ref,
	tokens_received, token_symbol, token_name, realized_sol, pnl_sol, pnl_pct,
	failure_reason, created_at, approved_at, bought_at, sold_at, failed_at,
	cancelled_at, updated_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t             domain.Trade
		chain, status string
		pnl           decimal.NullDecimal
	)
	err := row.Scan(
		&t.ID, &t.ContractAddress, &chain, &t.ChannelID, &t.ChannelName, &t.SourceMessage,
		&t.AllocationSOL, &status, &t.BuyPrice, &t.SellPrice, &t.BuyTxRef, &t.SellTxRef,
		&t.TokensReceived, &t.Token.Symbol, &t.Token.Name, &t.RealizedSOL, &pnl, &t.PnLPct,
		&t.FailureReason, &t.CreatedAt, &t.ApprovedAt, &t.BoughtAt, &t.SoldAt, &t.FailedAt,
		&t.CancelledAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Chain = domain.Chain(chain)
	t.Status = domain.TradeStatus(status)
	if pnl.Valid {
		t.PnLSOL = &pnl.Decimal
	}
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create inserts a trade. The partial unique index on open trades makes a
// concurrent second admission a no-op insert, reported as a duplicate.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, contract_address, chain, channel_id, channel_name, source_message,
			allocation_sol, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (contract_address, chain)
			WHERE status IN ('pending_sigma', 'pending_buy', 'bought')
			DO NOTHING`

	tag, err := s.q.Exec(ctx, query,
		t.ID, t.ContractAddress, string(t.Chain), t.ChannelID, t.ChannelName, t.SourceMessage,
		t.AllocationSOL, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, mapErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// The conflicting row can close between the insert and this read.
	existing, err := s.FindOpen(ctx, t.ContractAddress, t.Chain)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("postgres: create trade %s: conflicting trade closed: %w", t.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: lookup conflicting trade: %w", t.ID, err)
	}
	return &domain.DuplicateTradeError{
		ExistingID:      existing.ID,
		ContractAddress: t.ContractAddress,
		Chain:           t.Chain,
	}
}

// GetByID retrieves a trade by ID.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.q.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// FindOpen returns the open trade for a contract and chain.
func (s *TradeStore) FindOpen(ctx context.Context, addr string, chain domain.Chain) (domain.Trade, error) {
	t, err := scanTrade(s.q.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE contract_address = $1 AND chain = $2
		   AND status IN ('pending_sigma', 'pending_buy', 'bought')`,
		addr, string(chain)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: find open trade %s: %w", addr, err)
	}
	return t, nil
}

// ListByStatus returns trades in the given status, oldest first.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE status = $1`,
		[]any{string(status)}, "created_at", "ASC", opts)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// List returns trades, newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE TRUE`,
		nil, "created_at", "DESC", opts)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListClosedBetween returns terminal trades with from <= updated_at < to.
func (s *TradeStore) ListClosedBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.Trade, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status IN ('sold', 'failed', 'cancelled') AND updated_at >= $1 AND updated_at < $2`,
		[]any{from, to}, "updated_at", "ASC", domain.ListOpts{Limit: limit})
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// Transition writes the mutable fields of t only while the row still has
// status from.
func (s *TradeStore) Transition(ctx context.Context, t domain.Trade, from domain.TradeStatus) error {
	const query = `
		UPDATE trades SET
			status          = $3,
			buy_price       = $4,
			sell_price      = $5,
			buy_tx_ref      = $6,
			sell_tx_ref     = $7,
			tokens_received = $8,
			token_symbol    = $9,
			token_name      = $10,
			realized_sol    = $11,
			pnl_sol         = $12,
			pnl_pct         = $13,
			failure_reason  = $14,
			approved_at     = $15,
			bought_at       = $16,
			sold_at         = $17,
			failed_at       = $18,
			cancelled_at    = $19,
			updated_at      = $20
		WHERE id = $1 AND status = $2`

	tag, err := s.q.Exec(ctx, query,
		t.ID, string(from), string(t.Status),
		t.BuyPrice, t.SellPrice, t.BuyTxRef, t.SellTxRef,
		t.TokensReceived, t.Token.Symbol, t.Token.Name,
		t.RealizedSOL, nullDecimal(t.PnLSOL), t.PnLPct, t.FailureReason,
		t.ApprovedAt, t.BoughtAt, t.SoldAt, t.FailedAt, t.CancelledAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: transition trade %s: %w", t.ID, mapErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, t.ID); err != nil {
		return err
	}
	return fmt.Errorf("postgres: trade %s left %s: %w", t.ID, from, domain.ErrConflict)
}
