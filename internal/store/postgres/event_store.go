package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The table has no
// update or delete path; a trigger rejects both.
type EventStore struct {
	q querier
}

// Append inserts a ledger entry.
func (s *EventStore) Append(ctx context.Context, e domain.TradeEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event payload: %w", err)
	}
	if e.Payload == nil {
		payload = []byte("{}")
	}

	_, err = s.q.Exec(ctx,
		`INSERT INTO trade_events (id, trade_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.TradeID, string(e.Type), payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append %s event for %s: %w", e.Type, e.TradeID, mapErr(err))
	}
	return nil
}

// ListByTrade returns the events of a trade in append order.
func (s *EventStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.TradeEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, trade_id, event_type, payload, created_at
		 FROM trade_events WHERE trade_id = $1 ORDER BY seq ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", tradeID, err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		var (
			e       domain.TradeEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TradeID, &typ, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("postgres: decode event %s payload: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
