package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// TradeStore implements domain.TradeStore in memory.
type TradeStore struct {
	v view
}

// Create inserts a trade, enforcing a single open trade per contract and chain.
func (s *TradeStore) Create(_ context.Context, t domain.Trade) error {
	return s.v.write(func(st *state) error {
		if _, ok := st.trades[t.ID]; ok {
			return fmt.Errorf("memory: create trade %s: %w", t.ID, domain.ErrConflict)
		}
		if t.Status.IsOpen() {
			if existing, ok := findOpen(st, t.ContractAddress, t.Chain); ok {
				return &domain.DuplicateTradeError{
					ExistingID:      existing.ID,
					ContractAddress: t.ContractAddress,
					Chain:           t.Chain,
				}
			}
		}
		st.trades[t.ID] = t
		return nil
	})
}

func findOpen(st *state, addr string, chain domain.Chain) (domain.Trade, bool) {
	for _, t := range st.trades {
		if t.ContractAddress == addr && t.Chain == chain && t.Status.IsOpen() {
			return t, true
		}
	}
	return domain.Trade{}, false
}

// GetByID returns a trade by ID.
func (s *TradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	var out domain.Trade
	err := s.v.read(func(st *state) error {
		t, ok := st.trades[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = t
		return nil
	})
	return out, err
}

// FindOpen returns the open trade for a contract and chain.
func (s *TradeStore) FindOpen(_ context.Context, addr string, chain domain.Chain) (domain.Trade, error) {
	var out domain.Trade
	err := s.v.read(func(st *state) error {
		t, ok := findOpen(st, addr, chain)
		if !ok {
			return domain.ErrNotFound
		}
		out = t
		return nil
	})
	return out, err
}

// ListByStatus returns trades in the given status, oldest first.
func (s *TradeStore) ListByStatus(_ context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	err := s.v.read(func(st *state) error {
		for _, t := range st.trades {
			if t.Status == status && inRange(t.CreatedAt, opts) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortBy(out, func(a, b domain.Trade) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return paginate(out, opts), err
}

// List returns all trades, newest first.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	err := s.v.read(func(st *state) error {
		for _, t := range st.trades {
			if inRange(t.CreatedAt, opts) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortBy(out, func(a, b domain.Trade) bool { return a.CreatedAt.After(b.CreatedAt) })
	return paginate(out, opts), err
}

// ListClosedBetween returns terminal trades with from <= updated_at < to.
func (s *TradeStore) ListClosedBetween(_ context.Context, from, to time.Time, limit int) ([]domain.Trade, error) {
	var out []domain.Trade
	err := s.v.read(func(st *state) error {
		for _, t := range st.trades {
			if t.Status.IsTerminal() && !t.UpdatedAt.Before(from) && t.UpdatedAt.Before(to) {
				out = append(out, t)
			}
		}
		return nil
	})
	sortBy(out, func(a, b domain.Trade) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	return paginate(out, domain.ListOpts{Limit: limit}), err
}

// Transition stores t if the current status still equals from.
func (s *TradeStore) Transition(_ context.Context, t domain.Trade, from domain.TradeStatus) error {
	return s.v.write(func(st *state) error {
		cur, ok := st.trades[t.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Status != from {
			return fmt.Errorf("memory: trade %s is %s, expected %s: %w", t.ID, cur.Status, from, domain.ErrConflict)
		}
		st.trades[t.ID] = t
		return nil
	})
}

func inRange(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}
