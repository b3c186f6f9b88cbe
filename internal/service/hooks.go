package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/metrics"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Hooks are the optional side channels fed after a unit of work commits.
// Nil fields are skipped.
type Hooks struct {
	Bus      domain.SignalBus
	Notifier Notifier
	Metrics  *metrics.Metrics
	Locks    domain.LockManager
	LockTTL  time.Duration
}

func (h Hooks) publish(ctx context.Context, logger *slog.Logger, channel string, payload map[string]any) {
	if h.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.Bus.Publish(ctx, channel, data); err != nil {
		logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// stream mirrors committed ledger events onto the durable bus stream.
func (h Hooks) stream(ctx context.Context, logger *slog.Logger, events []domain.TradeEvent) {
	if h.Bus == nil {
		return
	}
	for _, e := range events {
		data, err := json.Marshal(map[string]any{
			"id":         e.ID,
			"trade_id":   e.TradeID,
			"type":       string(e.Type),
			"payload":    e.Payload,
			"created_at": e.CreatedAt,
		})
		if err != nil {
			continue
		}
		if err := h.Bus.StreamAppend(ctx, domain.StreamLedger, data); err != nil {
			logger.WarnContext(ctx, "ledger stream append failed",
				slog.String("trade_id", e.TradeID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (h Hooks) notify(ctx context.Context, logger *slog.Logger, event, title, message string) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Notify(ctx, event, title, message); err != nil {
		logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// lockPosition serializes sell operations on a position across instances.
// Correctness does not depend on it; the version CAS does.
func (h Hooks) lockPosition(ctx context.Context, positionID string) (func(), error) {
	if h.Locks == nil {
		return func() {}, nil
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	unlock, err := h.Locks.Acquire(ctx, "position:"+positionID, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("position %s busy: %w", positionID, domain.ErrConflict)
		}
		return nil, err
	}
	return unlock, nil
}

// ledger collects the events appended inside a transaction so they can be
// streamed once it commits.
type ledger struct {
	tx     domain.Ledger
	events []domain.TradeEvent
}

func (l *ledger) append(ctx context.Context, tradeID string, typ domain.EventType, payload map[string]any, at time.Time) error {
	e := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   tradeID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: at,
	}
	if err := l.tx.Append(ctx, e); err != nil {
		return fmt.Errorf("ledger append %s: %w", typ, err)
	}
	l.events = append(l.events, e)
	return nil
}

const maxConflictRetries = 5

// retryOnConflict reruns fn while it fails with ErrConflict. Each attempt
// re-reads state, so guards are evaluated against the winner's result.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return err
}
