package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	v view
}

// Create inserts a position; a trade can own at most one.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	return s.v.write(func(st *state) error {
		for _, existing := range st.positions {
			if existing.TradeID == p.TradeID {
				return domain.ErrPositionAlreadyExists
			}
		}
		if _, ok := st.positions[p.ID]; ok {
			return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrConflict)
		}
		if p.Version == 0 {
			p.Version = 1
		}
		st.positions[p.ID] = p
		return nil
	})
}

// GetByID returns a position by ID.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	var out domain.Position
	err := s.v.read(func(st *state) error {
		p, ok := st.positions[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}

// GetByTradeID returns the position owned by a trade.
func (s *PositionStore) GetByTradeID(_ context.Context, tradeID string) (domain.Position, error) {
	var out domain.Position
	err := s.v.read(func(st *state) error {
		for _, p := range st.positions {
			if p.TradeID == tradeID {
				out = p
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

// ListActive returns active positions, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	return s.List(ctx, true, domain.ListOpts{})
}

// List returns positions ordered by open time.
func (s *PositionStore) List(_ context.Context, activeOnly bool, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	err := s.v.read(func(st *state) error {
		for _, p := range st.positions {
			if activeOnly && !p.IsActive {
				continue
			}
			if inRange(p.OpenedAt, opts) {
				out = append(out, p)
			}
		}
		return nil
	})
	sortBy(out, func(a, b domain.Position) bool { return a.OpenedAt.Before(b.OpenedAt) })
	return paginate(out, opts), err
}

// Update writes p if its version matches and returns it with the next version.
func (s *PositionStore) Update(_ context.Context, p domain.Position) (domain.Position, error) {
	err := s.v.write(func(st *state) error {
		cur, ok := st.positions[p.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Version != p.Version {
			return fmt.Errorf("memory: position %s version %d, have %d: %w", p.ID, cur.Version, p.Version, domain.ErrConflict)
		}
		p.Version++
		st.positions[p.ID] = p
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}
