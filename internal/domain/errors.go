package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateTrade        = errors.New("duplicate trade")
	ErrPositionAlreadyExists = errors.New("position already exists")
	ErrPositionNotActive     = errors.New("position not active")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrSellOrderPending      = errors.New("sell order already pending")
	ErrConflict              = errors.New("concurrent modification")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrLockHeld              = errors.New("lock already held")
)

// DuplicateTradeError is returned when a trade for the same contract and
// chain is already open. It matches ErrDuplicateTrade.
type DuplicateTradeError struct {
	ExistingID      string
	ContractAddress string
	Chain           Chain
}

func (e *DuplicateTradeError) Error() string {
	return fmt.Sprintf("duplicate trade: %s on %s already open as %s", e.ContractAddress, e.Chain, e.ExistingID)
}

func (e *DuplicateTradeError) Is(target error) bool { return target == ErrDuplicateTrade }

// SellOrderPendingError is returned when a position already has a pending
// sell order. It matches ErrSellOrderPending.
type SellOrderPendingError struct {
	PositionID string
	ExistingID string
}

func (e *SellOrderPendingError) Error() string {
	return fmt.Sprintf("sell order %s already pending for position %s", e.ExistingID, e.PositionID)
}

func (e *SellOrderPendingError) Is(target error) bool { return target == ErrSellOrderPending }

// TransitionError reports a rejected trade status change. It matches
// ErrInvalidTransition.
type TransitionError struct {
	TradeID string
	From    TradeStatus
	To      TradeStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trade %s: cannot move from %s to %s", e.TradeID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
