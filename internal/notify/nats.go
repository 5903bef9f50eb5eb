package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// NATSSender publishes battle events as JSON on "<subject>.<event type>" so
// bot front ends can subscribe to exactly the events they render.
type NATSSender struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials the NATS server with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSSender creates a NATSSender publishing below subject.
func NewNATSSender(conn *nats.Conn, subject string) *NATSSender {
	return &NATSSender{conn: conn, subject: subject}
}

// Subject returns the subject an event of the given type is published on.
func (s *NATSSender) Subject(eventType string) string {
	return s.subject + "." + eventType
}

// Send publishes a plain notification on "<subject>.notice".
func (s *NATSSender) Send(_ context.Context, title, message string) error {
	data, err := json.Marshal(map[string]string{"title": title, "message": message})
	if err != nil {
		return fmt.Errorf("nats: marshal notice: %w", err)
	}
	if err := s.conn.Publish(s.Subject("notice"), data); err != nil {
		return fmt.Errorf("nats: publish notice: %w", err)
	}
	return nil
}

// SendEvent publishes evt unchanged.
func (s *NATSSender) SendEvent(_ context.Context, evt domain.BattleEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(evt.Type), data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", evt.Type, err)
	}
	return nil
}

// Name returns the sender identifier.
func (s *NATSSender) Name() string { return "nats" }

// Close drains pending publishes and closes the connection.
func (s *NATSSender) Close() error {
	return s.conn.Drain()
}
