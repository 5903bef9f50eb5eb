package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusBroadcast(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBusWithMaxLen(c, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, "battles")
	require.NoError(t, err)

	require.NoError(t, bus.Broadcast(ctx, "battles", "stream:battles", []byte(`{"type":"battle_created"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"type":"battle_created"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no live event")
	}

	msgs, err := bus.StreamRead(ctx, "stream:battles", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)

	// Reading after the last id yields nothing.
	msgs, err = bus.StreamRead(ctx, "stream:battles", msgs[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEventBusSubscribeClosesOnCancel(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "refunds")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}
