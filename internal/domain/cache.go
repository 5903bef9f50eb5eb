package domain

import (
	"context"
	"time"
)

// RateLimiter counts actions per key in a sliding window. Keys are scoped by
// the caller, e.g. "battle:start:<wallet>" or "api:<ip>".
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out short-lived cross-process locks. Acquire fails with
// ErrLockHeld while another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of the battle event history.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans battle events out to live subscribers and keeps a bounded,
// replayable history of them.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// Broadcast publishes payload on channel and appends it to stream in a
	// single round trip.
	Broadcast(ctx context.Context, channel, stream string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}
