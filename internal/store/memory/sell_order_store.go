package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// SellOrderStore implements domain.SellOrderStore in memory.
type SellOrderStore struct {
	v view
}

// Create inserts a sell order; a position can have one pending order.
func (s *SellOrderStore) Create(_ context.Context, o domain.SellOrder) error {
	return s.v.write(func(st *state) error {
		if o.Status == domain.SellPending {
			for _, existing := range st.sellOrders {
				if existing.PositionID == o.PositionID && existing.Status == domain.SellPending {
					return &domain.SellOrderPendingError{PositionID: o.PositionID, ExistingID: existing.ID}
				}
			}
		}
		if _, ok := st.sellOrders[o.ID]; ok {
			return fmt.Errorf("memory: create sell order %s: %w", o.ID, domain.ErrConflict)
		}
		st.sellOrders[o.ID] = o
		return nil
	})
}

// GetByID returns a sell order by ID.
func (s *SellOrderStore) GetByID(_ context.Context, id string) (domain.SellOrder, error) {
	var out domain.SellOrder
	err := s.v.read(func(st *state) error {
		o, ok := st.sellOrders[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = o
		return nil
	})
	return out, err
}

// ListPending returns pending orders, oldest first.
func (s *SellOrderStore) ListPending(_ context.Context) ([]domain.SellOrder, error) {
	return s.list(func(o domain.SellOrder) bool { return o.Status == domain.SellPending })
}

// ListByPosition returns all orders of a position, oldest first.
func (s *SellOrderStore) ListByPosition(_ context.Context, positionID string) ([]domain.SellOrder, error) {
	return s.list(func(o domain.SellOrder) bool { return o.PositionID == positionID })
}

func (s *SellOrderStore) list(keep func(domain.SellOrder) bool) ([]domain.SellOrder, error) {
	var out []domain.SellOrder
	err := s.v.read(func(st *state) error {
		for _, o := range st.sellOrders {
			if keep(o) {
				out = append(out, o)
			}
		}
		return nil
	})
	sortBy(out, func(a, b domain.SellOrder) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return out, err
}

// Settle stores o if the current order is still pending.
func (s *SellOrderStore) Settle(_ context.Context, o domain.SellOrder) error {
	return s.v.write(func(st *state) error {
		cur, ok := st.sellOrders[o.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Status != domain.SellPending {
			return fmt.Errorf("memory: sell order %s is %s: %w", o.ID, cur.Status, domain.ErrConflict)
		}
		st.sellOrders[o.ID] = o
		return nil
	})
}

// SumExecuted totals executed proceeds and tokens for a position.
func (s *SellOrderStore) SumExecuted(_ context.Context, positionID string) (decimal.Decimal, decimal.Decimal, error) {
	realized, tokens := decimal.Zero, decimal.Zero
	err := s.v.read(func(st *state) error {
		for _, o := range st.sellOrders {
			if o.PositionID == positionID && o.Status == domain.SellExecuted {
				realized = realized.Add(o.RealizedSOL)
				tokens = tokens.Add(o.TokensToSell)
			}
		}
		return nil
	})
	return realized, tokens, err
}
