package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trades. Trades are never deleted.
type TradeStore interface {
	// Create inserts a trade in an open status. It returns a
	// *DuplicateTradeError when another open trade holds the same
	// (contract_address, chain).
	Create(ctx context.Context, t Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	FindOpen(ctx context.Context, contractAddress string, chain Chain) (Trade, error)
	ListByStatus(ctx context.Context, status TradeStatus, opts ListOpts) ([]Trade, error)
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
	// ListClosedBetween returns terminal trades with from <= updated_at < to,
	// oldest first.
	ListClosedBetween(ctx context.Context, from, to time.Time, limit int) ([]Trade, error)
	// Transition writes t only if the stored status still equals from.
	// It returns ErrConflict when the status moved underneath the caller.
	Transition(ctx context.Context, t Trade, from TradeStatus) error
}

// PositionStore persists positions.
type PositionStore interface {
	// Create returns ErrPositionAlreadyExists when the trade already has one.
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetByTradeID(ctx context.Context, tradeID string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	List(ctx context.Context, activeOnly bool, opts ListOpts) ([]Position, error)
	// Update compares p.Version against the stored row and returns the
	// position with its bumped version, or ErrConflict on mismatch.
	Update(ctx context.Context, p Position) (Position, error)
}

// SellOrderStore persists sell orders.
type SellOrderStore interface {
	// Create returns a *SellOrderPendingError when the position already has
	// a pending order.
	Create(ctx context.Context, o SellOrder) error
	GetByID(ctx context.Context, id string) (SellOrder, error)
	ListPending(ctx context.Context) ([]SellOrder, error)
	ListByPosition(ctx context.Context, positionID string) ([]SellOrder, error)
	// Settle moves o from pending to its new status, returning ErrConflict if
	// it is no longer pending.
	Settle(ctx context.Context, o SellOrder) error
	// SumExecuted totals realized proceeds and tokens sold across all
	// executed orders of the position.
	SumExecuted(ctx context.Context, positionID string) (realized, tokens decimal.Decimal, err error)
}

// Ledger is the append-only trade event log.
type Ledger interface {
	Append(ctx context.Context, e TradeEvent) error
}

// EventReader reads the ledger. The state machine never consults it.
type EventReader interface {
	ListByTrade(ctx context.Context, tradeID string) ([]TradeEvent, error)
}

// EventStore combines ledger writes and reads.
type EventStore interface {
	Ledger
	EventReader
}

// WorkerStore persists worker heartbeats.
type WorkerStore interface {
	Upsert(ctx context.Context, hb WorkerHeartbeat) error
	Get(ctx context.Context, name string) (WorkerHeartbeat, error)
	List(ctx context.Context) ([]WorkerHeartbeat, error)
}

// Stores groups the repositories that take part in lifecycle transactions.
type Stores struct {
	Trades     TradeStore
	Positions  PositionStore
	SellOrders SellOrderStore
	Events     EventStore
}

// Storage exposes the repositories and runs atomic units of work over them.
// Inside fn only the tx-bound Stores may be used.
type Storage interface {
	Stores() Stores
	InTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}
