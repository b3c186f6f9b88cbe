package domain

import "time"

// EventType labels a ledger entry.
type EventType string

const (
	EventQueued        EventType = "queued"
	EventApproved      EventType = "approved"
	EventBought        EventType = "bought"
	EventFailed        EventType = "failed"
	EventCancelled     EventType = "cancelled"
	EventSellRequested EventType = "sell_requested"
	EventSellFailed    EventType = "sell_failed"
	EventPartialSell   EventType = "partial_sell"
	EventSold          EventType = "sold"
)

// TradeEvent is an immutable ledger row.
type TradeEvent struct {
	ID        string         `json:"id"`
	TradeID   string         `json:"trade_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
