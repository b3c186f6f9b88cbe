// Package notify delivers operator alerts about trade lifecycle events
// (buys, failures, exit triggers, sales) to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type alert struct {
	event, title, message string
}

// Notifier fans alerts out to its senders. Notify only enqueues, so
// lifecycle operations never wait on a chat API; Run performs delivery.
// Events outside the allow list are dropped; an empty list allows all.
type Notifier struct {
	senders     []Sender
	events      map[string]bool
	queue       chan alert
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewNotifier creates a Notifier with a queue of the given capacity.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		queue:       make(chan alert, queueSize),
		sendTimeout: 10 * time.Second,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Notify enqueues an alert. A full queue drops the alert with a warning.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 || !n.allowed(event) {
		return nil
	}
	select {
	case n.queue <- alert{event: event, title: title, message: message}:
		return nil
	default:
		n.logger.WarnContext(ctx, "notify: queue full, alert dropped", slog.String("event", event))
		return fmt.Errorf("notify: queue full, dropped %s", event)
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			sendCtx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
			if err := n.Dispatch(sendCtx, a.title, a.message); err != nil {
				n.logger.WarnContext(ctx, "notify: delivery failed",
					slog.String("event", a.event),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

// Dispatch sends synchronously to every sender. One failing sender does not
// prevent delivery to the rest.
func (n *Notifier) Dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}
