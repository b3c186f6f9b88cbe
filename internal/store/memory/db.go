// Package memory implements the domain store interfaces in process memory.
// It is used for tests and single-process deployments without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

type state struct {
	trades     map[string]domain.Trade
	positions  map[string]domain.Position
	sellOrders map[string]domain.SellOrder
	events     []domain.TradeEvent
}

func newState() *state {
	return &state{
		trades:     make(map[string]domain.Trade),
		positions:  make(map[string]domain.Position),
		sellOrders: make(map[string]domain.SellOrder),
	}
}

func (s *state) clone() *state {
	c := &state{
		trades:     make(map[string]domain.Trade, len(s.trades)),
		positions:  make(map[string]domain.Position, len(s.positions)),
		sellOrders: make(map[string]domain.SellOrder, len(s.sellOrders)),
		events:     make([]domain.TradeEvent, len(s.events)),
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.sellOrders {
		c.sellOrders[k] = v
	}
	copy(c.events, s.events)
	return c
}

// DB is an in-memory domain.Storage. Transactions run against a private copy
// of the state which replaces the live state on success, so a failed unit of
// work leaves nothing behind. Transactions are serialized.
type DB struct {
	mu sync.RWMutex
	st *state
}

// New creates an empty DB.
func New() *DB {
	return &DB{st: newState()}
}

// Stores returns repositories bound to the live state.
func (db *DB) Stores() domain.Stores {
	return storesFor(view{db: db})
}

// InTx runs fn atomically. fn must only use the Stores it is given.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := db.st.clone()
	if err := fn(ctx, storesFor(view{st: next})); err != nil {
		return err
	}
	db.st = next
	return nil
}

func storesFor(v view) domain.Stores {
	return domain.Stores{
		Trades:     &TradeStore{v: v},
		Positions:  &PositionStore{v: v},
		SellOrders: &SellOrderStore{v: v},
		Events:     &EventStore{v: v},
	}
}

// view resolves the state a store operates on. Tx-bound views carry the
// transaction's private state and need no locking.
type view struct {
	db *DB
	st *state
}

func (v view) read(fn func(*state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.db.mu.RLock()
	defer v.db.mu.RUnlock()
	return fn(v.db.st)
}

func (v view) write(fn func(*state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	return fn(v.db.st)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func sortBy[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}
