package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// SellOrderStore implements domain.SellOrderStore using PostgreSQL.
type SellOrderStore struct {
	q querier
}

const sellOrderSelectCols = `id, position_id, trade_id, sell_pct, tokens_to_sell, reason,
	status, realized_sol, tx_ref, failure_reason, closed_position, created_at,
	executed_at, failed_at`

func scanSellOrder(row pgx.Row) (domain.SellOrder, error) {
	var (
		o              domain.SellOrder
		reason, status string
	)
	err := row.Scan(
		&o.ID, &o.PositionID, &o.TradeID, &o.SellPct, &o.TokensToSell, &reason,
		&status, &o.RealizedSOL, &o.TxRef, &o.FailureReason, &o.ClosedPosition, &o.CreatedAt,
		&o.ExecutedAt, &o.FailedAt,
	)
	if err != nil {
		return domain.SellOrder{}, err
	}
	o.Reason = domain.SellReason(reason)
	o.Status = domain.SellOrderStatus(status)
	return o, nil
}

func scanSellOrders(rows pgx.Rows) ([]domain.SellOrder, error) {
	defer rows.Close()
	var orders []domain.SellOrder
	for rows.Next() {
		o, err := scanSellOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a pending sell order. A second pending order for the same
// position is rejected by the sell_orders_one_pending index.
func (s *SellOrderStore) Create(ctx context.Context, o domain.SellOrder) error {
	const query = `
		INSERT INTO sell_orders (
			id, position_id, trade_id, sell_pct, tokens_to_sell, reason,
			status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (position_id) WHERE status = 'pending' DO NOTHING`

	tag, err := s.q.Exec(ctx, query,
		o.ID, o.PositionID, o.TradeID, o.SellPct, o.TokensToSell, string(o.Reason),
		string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create sell order %s: %w", o.ID, mapErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := scanSellOrder(s.q.QueryRow(ctx,
		`SELECT `+sellOrderSelectCols+` FROM sell_orders
		 WHERE position_id = $1 AND status = 'pending'`, o.PositionID))
	if err != nil {
		return fmt.Errorf("postgres: create sell order %s: lookup pending order: %w", o.ID, mapErr(err))
	}
	return &domain.SellOrderPendingError{PositionID: o.PositionID, ExistingID: existing.ID}
}

// GetByID retrieves a sell order by ID.
func (s *SellOrderStore) GetByID(ctx context.Context, id string) (domain.SellOrder, error) {
	o, err := scanSellOrder(s.q.QueryRow(ctx, `SELECT `+sellOrderSelectCols+` FROM sell_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SellOrder{}, domain.ErrNotFound
		}
		return domain.SellOrder{}, fmt.Errorf("postgres: get sell order %s: %w", id, err)
	}
	return o, nil
}

// ListPending returns pending orders, oldest first.
func (s *SellOrderStore) ListPending(ctx context.Context) ([]domain.SellOrder, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+sellOrderSelectCols+` FROM sell_orders
		 WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending sell orders: %w", err)
	}
	orders, err := scanSellOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sell orders: %w", err)
	}
	return orders, nil
}

// ListByPosition returns every order of a position, oldest first.
func (s *SellOrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.SellOrder, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+sellOrderSelectCols+` FROM sell_orders
		 WHERE position_id = $1 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sell orders for %s: %w", positionID, err)
	}
	orders, err := scanSellOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sell orders: %w", err)
	}
	return orders, nil
}

// Settle moves a pending order to its executed or failed state.
func (s *SellOrderStore) Settle(ctx context.Context, o domain.SellOrder) error {
	const query = `
		UPDATE sell_orders SET
			status          = $2,
			realized_sol    = $3,
			tx_ref          = $4,
			failure_reason  = $5,
			closed_position = $6,
			executed_at     = $7,
			failed_at       = $8
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.q.Exec(ctx, query,
		o.ID, string(o.Status), o.RealizedSOL, o.TxRef, o.FailureReason,
		o.ClosedPosition, o.ExecutedAt, o.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle sell order %s: %w", o.ID, mapErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, o.ID); err != nil {
		return err
	}
	return fmt.Errorf("postgres: sell order %s is no longer pending: %w", o.ID, domain.ErrConflict)
}

// SumExecuted totals the proceeds and tokens of a position's executed orders.
func (s *SellOrderStore) SumExecuted(ctx context.Context, positionID string) (decimal.Decimal, decimal.Decimal, error) {
	var realized, tokens decimal.Decimal
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_sol), 0), COALESCE(SUM(tokens_to_sell), 0)
		 FROM sell_orders WHERE position_id = $1 AND status = 'executed'`,
		positionID).Scan(&realized, &tokens)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("postgres: sum executed for %s: %w", positionID, err)
	}
	return realized, tokens, nil
}
