package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// EventStore implements domain.EventStore in memory.
type EventStore struct {
	v view
}

// Append adds an event to the ledger.
func (s *EventStore) Append(_ context.Context, e domain.TradeEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return s.v.write(func(st *state) error {
		st.events = append(st.events, e)
		return nil
	})
}

// ListByTrade returns the events of a trade in append order.
func (s *EventStore) ListByTrade(_ context.Context, tradeID string) ([]domain.TradeEvent, error) {
	var out []domain.TradeEvent
	err := s.v.read(func(st *state) error {
		for _, e := range st.events {
			if e.TradeID == tradeID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}
