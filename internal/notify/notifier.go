// Package notify forwards battle events to chat channels and the message
// bus. Events are filtered by type so operators receive only the alerts
// they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// EventSender is implemented by senders that want the structured event
// rather than its rendered text.
type EventSender interface {
	SendEvent(ctx context.Context, evt domain.BattleEvent) error
}

// Notifier dispatches battle events to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose type appears in events
// are forwarded by Notify; an empty list allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Allowed reports whether events of the given type pass the filter.
func (n *Notifier) Allowed(eventType string) bool {
	return len(n.events) == 0 || n.events[eventType]
}

// Notify renders evt and sends it to every sender if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, evt domain.BattleEvent) error {
	if !n.Allowed(evt.Type) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", evt.Type))
		return nil
	}
	title, message := Render(evt)
	return n.dispatch(ctx, &evt, title, message)
}

// NotifyAll sends a plain notification to all senders regardless of the
// event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, nil, title, message)
}

// Run subscribes to the given bus channels and forwards every decodable
// event until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context, bus domain.EventBus, channels ...string) error {
	if !n.Enabled() {
		<-ctx.Done()
		return nil
	}

	merged := make(chan []byte)
	closed := make(chan string, len(channels))
	for _, ch := range channels {
		sub, err := bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", ch, err)
		}
		go func() {
			defer func() { closed <- ch }()
			for msg := range sub {
				select {
				case merged <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	n.logger.InfoContext(ctx, "forwarding battle events",
		slog.Any("channels", channels),
		slog.Int("senders", len(n.senders)),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-closed:
			if ctx.Err() != nil {
				return nil
			}
			n.logger.WarnContext(ctx, "event subscription closed", slog.String("channel", ch))
			return fmt.Errorf("notify: subscription %s closed", ch)
		case msg := <-merged:
			evt, err := decodeEvent(msg)
			if err != nil {
				n.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			// Errors are already logged per sender.
			_ = n.Notify(ctx, evt)
		}
	}
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the others; all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, evt *domain.BattleEvent, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		var err error
		if es, ok := s.(EventSender); ok && evt != nil {
			err = es.SendEvent(ctx, *evt)
		} else {
			err = s.Send(ctx, title, message)
		}
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
